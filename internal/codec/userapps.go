// Package codec encodes record values in the UserApps protobuf wire layout:
//
//	message UserApps {
//	    repeated sint64 apps = 1 [packed=true];
//	    optional double lat = 2;
//	    optional double lon = 3;
//	}
package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lechuhuuha/memcload/internal/domain"
)

const (
	fieldApps protowire.Number = 1
	fieldLat  protowire.Number = 2
	fieldLon  protowire.Number = 3
)

var ErrMalformed = errors.New("malformed user apps value")

// UserApps is the decoded cache value.
type UserApps struct {
	Lat    float64
	Lon    float64
	HasGeo bool
	Apps   []int64
}

// Encode serialises the numeric fields of rec. The coordinates are omitted when
// the record carries no valid geo pair.
func Encode(rec domain.Record) []byte {
	return EncodeFields(rec.Lat, rec.Lon, rec.HasGeo, rec.Apps)
}

// EncodeFields is Encode without a Record.
func EncodeFields(lat, lon float64, hasGeo bool, apps []int64) []byte {
	size := 0
	packedLen := 0
	for _, a := range apps {
		packedLen += protowire.SizeVarint(protowire.EncodeZigZag(a))
	}
	if len(apps) > 0 {
		size += protowire.SizeTag(fieldApps) + protowire.SizeBytes(packedLen)
	}
	if hasGeo {
		size += 2 * (protowire.SizeTag(fieldLat) + protowire.SizeFixed64())
	}

	b := make([]byte, 0, size)
	if len(apps) > 0 {
		b = protowire.AppendTag(b, fieldApps, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(packedLen))
		for _, a := range apps {
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(a))
		}
	}
	if hasGeo {
		b = protowire.AppendTag(b, fieldLat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(lat))
		b = protowire.AppendTag(b, fieldLon, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(lon))
	}
	return b
}

// Decode parses a value produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (UserApps, error) {
	out := UserApps{Apps: make([]int64, 0)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return UserApps{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldApps && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return UserApps{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return UserApps{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
				}
				out.Apps = append(out.Apps, protowire.DecodeZigZag(v))
				packed = packed[m:]
			}
		case num == fieldApps && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return UserApps{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			out.Apps = append(out.Apps, protowire.DecodeZigZag(v))
		case (num == fieldLat || num == fieldLon) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return UserApps{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldLat {
				out.Lat = math.Float64frombits(v)
			} else {
				out.Lon = math.Float64frombits(v)
			}
			out.HasGeo = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return UserApps{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return out, nil
}
