// Package fingerprint derives the idempotency key for a discount event.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/bakkerme/dealwatch/internal/core"
)

// Size is the length of a rendered fingerprint in hex characters.
const Size = sha256.Size * 2

const delimiter = "|"

// Fingerprint is a lowercase hex SHA-256 digest.
type Fingerprint string

// Of fingerprints the identifying attributes of an event. The discount is
// formatted to one decimal place and the name is trimmed before hashing; url
// and retailer are used as given. Empty fields are hashed like any other value.
func Of(url, retailer string, discount float64, name string) Fingerprint {
	key := strings.Join([]string{
		url,
		retailer,
		strconv.FormatFloat(discount, 'f', 1, 64),
		strings.TrimSpace(name),
	}, delimiter)
	sum := sha256.Sum256([]byte(key))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// OfEvent fingerprints a DiscountEvent.
func OfEvent(event *core.DiscountEvent) Fingerprint {
	if event == nil {
		return Of("", "", 0, "")
	}
	return Of(event.URL, event.Retailer, event.DiscountPercentage, event.Name)
}

func (f Fingerprint) String() string {
	return string(f)
}

// Valid reports whether f looks like a rendered fingerprint.
func (f Fingerprint) Valid() bool {
	if len(f) != Size {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}
