package authmsg

import (
	"fmt"
	"strconv"
	"strings"
)

// Field 48 elements: two-digit tag, two-digit length, value.
const (
	tagTransStatus     = "01"
	tagECI             = "02"
	tagAuthValue       = "03"
	tagDSTransactionID = "04"
	tagProtocolVersion = "05"
)

func encodeThreeDS(d ThreeDS) string {
	var b strings.Builder
	put := func(tag, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(&b, "%s%02d%s", tag, len(v), v)
	}
	put(tagTransStatus, d.TransStatus)
	put(tagECI, d.ECI)
	put(tagAuthValue, d.AuthenticationValue)
	put(tagDSTransactionID, d.DSTransactionID)
	put(tagProtocolVersion, d.ProtocolVersion)
	return b.String()
}

func decodeThreeDS(s string) (ThreeDS, error) {
	var d ThreeDS
	for len(s) > 0 {
		if len(s) < 4 {
			return d, fmt.Errorf("%w: truncated 3ds element", ErrInvalidRequest)
		}
		tag := s[:2]
		n, err := strconv.Atoi(s[2:4])
		if err != nil || len(s) < 4+n {
			return d, fmt.Errorf("%w: bad 3ds element length", ErrInvalidRequest)
		}
		v := s[4 : 4+n]
		s = s[4+n:]

		switch tag {
		case tagTransStatus:
			d.TransStatus = v
		case tagECI:
			d.ECI = v
		case tagAuthValue:
			d.AuthenticationValue = v
		case tagDSTransactionID:
			d.DSTransactionID = v
		case tagProtocolVersion:
			d.ProtocolVersion = v
		}
	}
	return d, nil
}
