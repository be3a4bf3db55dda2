package utils

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Card barcode format: PF-YYYYMMDD-XXXXXX
//   PF       brand prefix (Pack Fresh)
//   YYYYMMDD date the card entered the system
//   XXXXXX   random suffix, Code 128 friendly
//
// The suffix charset drops O, I, and L so labels stay unambiguous for humans.
// 33^6 is roughly 1.3 billion combinations per day; a collision against the
// unique index means the allocator is broken, not that we got unlucky.
const (
	CardBarcodePrefix  = "PF"
	barcodeSuffixChars = "0123456789ABCDEFGHJKMNPQRSTUVWXYZ"
	barcodeSuffixLen   = 6
)

var cardBarcodePattern = regexp.MustCompile(`^PF-\d{8}-[0-9A-HJKMNP-Z]{6}$`)

// GenerateCardBarcode allocates a new card barcode string.
func GenerateCardBarcode() string {
	buf := make([]byte, barcodeSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is gone; nothing
		// sensible to do but panic.
		panic(fmt.Sprintf("barcode entropy unavailable: %v", err))
	}
	suffix := make([]byte, barcodeSuffixLen)
	for i, b := range buf {
		suffix[i] = barcodeSuffixChars[int(b)%len(barcodeSuffixChars)]
	}
	return fmt.Sprintf("%s-%s-%s",
		CardBarcodePrefix, time.Now().UTC().Format("20060102"), suffix)
}

// IsCardBarcode reports whether a scanned string looks like one of our card
// barcodes.
func IsCardBarcode(code string) bool {
	return cardBarcodePattern.MatchString(code)
}
