package models

import (
	"database/sql/driver"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	HashTypeSHA256  HashType = "SHA256"
	HashTypeBlake2b HashType = "BLAKE2B"
)

// HashType is the algorithm used to produce a content digest.
type HashType string

func (s HashType) Valid() bool {
	return s == HashTypeSHA256 || s == HashTypeBlake2b
}

func (s HashType) String() string {
	return string(s)
}

func (s *HashType) Scan(src interface{}) error {
	if src == nil {
		return errors.New("error cannot convert nil to HashType")
	}
	t, ok := src.(string)
	if !ok {
		return errors.Errorf("error expected string but found: %T", src)
	}
	switch strings.ToUpper(t) {
	case "":
		return nil
	case string(HashTypeSHA256):
		*s = HashTypeSHA256
	case string(HashTypeBlake2b):
		*s = HashTypeBlake2b
	default:
		return errors.Errorf("error unknown hash type: %s", t)
	}
	return nil
}

func (s HashType) Value() (driver.Value, error) {
	return string(s), nil
}

var contentHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidContentHash returns true if str is a well-formed hex-encoded 256-bit digest.
func ValidContentHash(str string) bool {
	return contentHashRegex.MatchString(str)
}
