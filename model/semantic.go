package model

import (
	"fmt"
	"net/mail"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wp-labs/wp-open-api/errors"
)

func invalidValue(k Kind, input string, cause error) error {
	err := fmt.Errorf("%w: %s %q", errors.ErrInvalidData, k, input)
	if cause != nil {
		err = fmt.Errorf("%w: %v", err, cause)
	}
	return errors.WrapInvalid(err, "model", "New"+k.String(), "validate")
}

// TimeFormat is the explicit encoding a Time value was read from. It drives
// how the value is rendered.
type TimeFormat uint8

const (
	TimeDefault TimeFormat = iota
	TimeISO
	TimeRFC3339
	TimeRFC2822
	TimeUnix
	TimeCLF
)

const (
	layoutDefault = "2006-01-02 15:04:05.999999999"
	layoutISO     = "2006-01-02T15:04:05.999999999"
	layoutCLF     = "02/Jan/2006:15:04:05 -0700"
)

// Time is a timestamp with the encoding it was read from.
type Time struct {
	at     time.Time
	format TimeFormat
}

// NewTime builds a Time rendered in the default layout.
func NewTime(at time.Time) Time { return Time{at: at} }

// NewTimeAs builds a Time rendered with an explicit encoding.
func NewTimeAs(at time.Time, format TimeFormat) Time { return Time{at: at, format: format} }

// ParseTime parses s with the given encoding.
func ParseTime(s string, format TimeFormat) (Time, error) {
	var (
		at  time.Time
		err error
	)
	switch format {
	case TimeDefault:
		at, err = time.Parse(layoutDefault, s)
	case TimeISO:
		at, err = time.Parse(layoutISO, s)
	case TimeRFC3339:
		at, err = time.Parse(time.RFC3339Nano, s)
	case TimeRFC2822:
		at, err = time.Parse(time.RFC1123Z, s)
	case TimeUnix:
		var secs int64
		if secs, err = strconv.ParseInt(s, 10, 64); err == nil {
			at = time.Unix(secs, 0).UTC()
		}
	case TimeCLF:
		at, err = time.Parse(layoutCLF, s)
	default:
		err = fmt.Errorf("unknown time format %d", format)
	}
	if err != nil {
		return Time{}, invalidValue(KindTime, s, err)
	}
	return Time{at: at, format: format}, nil
}

// At returns the instant.
func (t Time) At() time.Time { return t.at }

// Format returns the encoding.
func (t Time) Format() TimeFormat { return t.format }

func (Time) Kind() Kind    { return KindTime }
func (Time) IsEmpty() bool { return false }
func (Time) isValue()      {}
func (t Time) String() string {
	switch t.format {
	case TimeISO:
		return t.at.Format(layoutISO)
	case TimeRFC3339:
		return t.at.Format(time.RFC3339Nano)
	case TimeRFC2822:
		return t.at.Format(time.RFC1123Z)
	case TimeUnix:
		return strconv.FormatInt(t.at.Unix(), 10)
	case TimeCLF:
		return t.at.Format(layoutCLF)
	default:
		return t.at.Format(layoutDefault)
	}
}

// IPAddr is an IPv4 or IPv6 address.
type IPAddr struct{ addr netip.Addr }

// NewIPAddr wraps a valid address.
func NewIPAddr(addr netip.Addr) (IPAddr, error) {
	if !addr.IsValid() {
		return IPAddr{}, invalidValue(KindIPAddr, addr.String(), nil)
	}
	return IPAddr{addr: addr}, nil
}

// ParseIPAddr parses a textual address.
func ParseIPAddr(s string) (IPAddr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IPAddr{}, invalidValue(KindIPAddr, s, err)
	}
	return IPAddr{addr: addr}, nil
}

// Addr returns the address.
func (v IPAddr) Addr() netip.Addr { return v.addr }

func (IPAddr) Kind() Kind       { return KindIPAddr }
func (IPAddr) IsEmpty() bool    { return false }
func (IPAddr) isValue()         {}
func (v IPAddr) String() string { return v.addr.String() }

// IPNet is an address with a prefix length.
type IPNet struct{ prefix netip.Prefix }

// NewIPNet builds a network from an address and prefix length. The length is
// limited to 32 for IPv4 and 128 for IPv6.
func NewIPNet(addr netip.Addr, bits int) (IPNet, error) {
	if !addr.IsValid() || bits < 0 || bits > addr.BitLen() {
		return IPNet{}, invalidValue(KindIPNet, fmt.Sprintf("%s/%d", addr, bits), nil)
	}
	return IPNet{prefix: netip.PrefixFrom(addr, bits)}, nil
}

// ParseIPNet parses CIDR notation such as "10.0.0.0/8".
func ParseIPNet(s string) (IPNet, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return IPNet{}, invalidValue(KindIPNet, s, err)
	}
	return IPNet{prefix: p}, nil
}

// Prefix returns the network prefix.
func (v IPNet) Prefix() netip.Prefix { return v.prefix }

func (IPNet) Kind() Kind       { return KindIPNet }
func (IPNet) IsEmpty() bool    { return false }
func (IPNet) isValue()         {}
func (v IPNet) String() string { return v.prefix.String() }

// Domain is a DNS name with at least two labels.
type Domain struct{ s string }

// NewDomain validates s as a DNS name.
func NewDomain(s string) (Domain, error) {
	name := strings.TrimSuffix(s, ".")
	if len(name) == 0 || len(name) > 253 {
		return Domain{}, invalidValue(KindDomain, s, nil)
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return Domain{}, invalidValue(KindDomain, s, fmt.Errorf("need at least two labels"))
	}
	for _, label := range labels {
		if !validLabel(label) {
			return Domain{}, invalidValue(KindDomain, s, fmt.Errorf("bad label %q", label))
		}
	}
	return Domain{s: s}, nil
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func (Domain) Kind() Kind       { return KindDomain }
func (v Domain) IsEmpty() bool  { return len(v.s) == 0 }
func (Domain) isValue()         {}
func (v Domain) String() string { return v.s }

// URL is an absolute URL with a scheme and host.
type URL struct{ s string }

// NewURL validates s as an absolute URL.
func NewURL(s string) (URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URL{}, invalidValue(KindURL, s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return URL{}, invalidValue(KindURL, s, fmt.Errorf("scheme and host are required"))
	}
	return URL{s: s}, nil
}

func (URL) Kind() Kind       { return KindURL }
func (v URL) IsEmpty() bool  { return len(v.s) == 0 }
func (URL) isValue()         {}
func (v URL) String() string { return v.s }

// Email is a bare mailbox address such as "ops@example.com".
type Email struct{ s string }

// NewEmail validates s as a bare address. Display names are rejected.
func NewEmail(s string) (Email, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return Email{}, invalidValue(KindEmail, s, err)
	}
	if addr.Address != s || addr.Name != "" {
		return Email{}, invalidValue(KindEmail, s, fmt.Errorf("not a bare address"))
	}
	return Email{s: s}, nil
}

func (Email) Kind() Kind       { return KindEmail }
func (v Email) IsEmpty() bool  { return len(v.s) == 0 }
func (Email) isValue()         {}
func (v Email) String() string { return v.s }

// IDCard is a resident identity number: 15 digits, or 17 digits followed by
// a MOD 11-2 check character.
type IDCard struct{ s string }

var (
	idCardWeights = [17]int{7, 9, 10, 5, 8, 4, 2, 1, 6, 3, 7, 9, 10, 5, 8, 4, 2}
	idCardCheck   = "10X98765432"
)

// NewIDCard validates s as an identity number.
func NewIDCard(s string) (IDCard, error) {
	switch len(s) {
	case 15:
		if !allDigits(s) {
			return IDCard{}, invalidValue(KindIDCard, s, nil)
		}
	case 18:
		if !allDigits(s[:17]) {
			return IDCard{}, invalidValue(KindIDCard, s, nil)
		}
		sum := 0
		for i, w := range idCardWeights {
			sum += int(s[i]-'0') * w
		}
		want := idCardCheck[sum%11]
		got := s[17]
		if got == 'x' {
			got = 'X'
		}
		if got != want {
			return IDCard{}, invalidValue(KindIDCard, s, fmt.Errorf("checksum mismatch"))
		}
	default:
		return IDCard{}, invalidValue(KindIDCard, s, fmt.Errorf("length %d", len(s)))
	}
	return IDCard{s: s}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func (IDCard) Kind() Kind       { return KindIDCard }
func (v IDCard) IsEmpty() bool  { return len(v.s) == 0 }
func (IDCard) isValue()         {}
func (v IDCard) String() string { return v.s }

// MobilePhone is a phone number of 7 to 15 digits with an optional leading '+'.
type MobilePhone struct{ s string }

var mobilePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NewMobilePhone validates s as a phone number.
func NewMobilePhone(s string) (MobilePhone, error) {
	if !mobilePattern.MatchString(s) {
		return MobilePhone{}, invalidValue(KindMobilePhone, s, nil)
	}
	return MobilePhone{s: s}, nil
}

func (MobilePhone) Kind() Kind       { return KindMobilePhone }
func (v MobilePhone) IsEmpty() bool  { return len(v.s) == 0 }
func (MobilePhone) isValue()         {}
func (v MobilePhone) String() string { return v.s }
