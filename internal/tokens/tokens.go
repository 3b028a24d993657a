// Package tokens builds and parses protocol token names of the form
// "<PREFIX> <kind>[ <id>]", optionally behind a CIP-67 label.
package tokens

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CIP-67 label prefixes.
const (
	RefLabel      = "\x00\x06\x43\xb0" // (100) reference NFT
	UserLabel     = "\x00\x0d\xe1\x40" // (222) user NFT
	FungibleLabel = "\x00\x14\xdf\x10" // (333) fungible token
)

// Token kinds.
const (
	KindSupply        = "supply"
	KindPortfolio     = "portfolio"
	KindPrice         = "price"
	KindAssets        = "assets"
	KindVoucher       = "voucher"
	KindReimbursement = "reimbursement"
)

// ErrInvalidName indicates a token name that does not follow the naming convention.
var ErrInvalidName = errors.New("invalid token name")

// idPattern accepts signed decimal ids without leading zeros.
var idPattern = regexp.MustCompile(`^(0|-?[1-9][0-9]*)$`)

// Name returns "<prefix> <kind>".
func Name(prefix, kind string) string {
	return prefix + " " + kind
}

// Series returns "<prefix> <kind> <id>".
func Series(prefix, kind string, id int64) string {
	return Name(prefix, kind) + " " + strconv.FormatInt(id, 10)
}

// Supply returns the name of the supply token.
func Supply(prefix string) string { return Name(prefix, KindSupply) }

// Portfolio returns the name of the portfolio token.
func Portfolio(prefix string) string { return Name(prefix, KindPortfolio) }

// Price returns the name of the price token.
func Price(prefix string) string { return Name(prefix, KindPrice) }

// Assets returns the name of the asset group token with the given id.
func Assets(prefix string, id int64) string { return Series(prefix, KindAssets, id) }

// Reimbursement returns the name of the reimbursement token of a period.
func Reimbursement(prefix string, periodID int64) string {
	return Series(prefix, KindReimbursement, periodID)
}

// Fund returns the name of the fungible fund token.
func Fund(prefix string) string { return FungibleLabel + prefix }

// VoucherRef returns the reference half of voucher id.
func VoucherRef(prefix string, id int64) string {
	return RefLabel + Series(prefix, KindVoucher, id)
}

// VoucherUser returns the user half of voucher id.
func VoucherUser(prefix string, id int64) string {
	return UserLabel + Series(prefix, KindVoucher, id)
}

// ParseID parses a decimal id, rejecting padding, whitespace and trailing garbage.
func ParseID(s string) (int64, error) {
	if !idPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: bad id %q", ErrInvalidName, s)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	return id, nil
}

// ParseSeries extracts the id from "<prefix> <kind> <id>".
func ParseSeries(prefix, kind, name string) (int64, error) {
	head := Name(prefix, kind) + " "
	rest, ok := strings.CutPrefix(name, head)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a %s token", ErrInvalidName, name, kind)
	}
	return ParseID(rest)
}

// ParseVoucher splits a voucher token name into its label and id.
func ParseVoucher(prefix, name string) (label string, id int64, err error) {
	for _, l := range []string{RefLabel, UserLabel} {
		if rest, ok := strings.CutPrefix(name, l); ok {
			id, err := ParseSeries(prefix, KindVoucher, rest)
			return l, id, err
		}
	}
	return "", 0, fmt.Errorf("%w: %q has no voucher label", ErrInvalidName, name)
}
