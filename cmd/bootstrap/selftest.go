package bootstrap

import (
	"fmt"
	"math"
	"strings"

	"github.com/lechuhuuha/memcload/internal/codec"
	"github.com/lechuhuuha/memcload/internal/parser"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

const selfTestSample = "idfa\t1rfw452y52g2gq4g\t55.55\t42.42\t1423,43,567,3,7,23\n" +
	"gaid\t7rfw452y52g2gq4g\t55.55\t42.42\t7423,424"

// SelfTest parses the built-in sample lines and checks that every encoded
// value decodes back to the same fields.
func SelfTest(logger loggerpkg.Logger) error {
	p := parser.New(logger)
	for _, line := range strings.Split(selfTestSample, "\n") {
		rec, err := p.Parse(strings.TrimSpace(line))
		if err != nil {
			return fmt.Errorf("self-test parse %q: %w", line, err)
		}
		got, err := codec.Decode(codec.Encode(rec))
		if err != nil {
			return fmt.Errorf("self-test decode %s: %w", rec.Key(), err)
		}
		if got.HasGeo != rec.HasGeo || !sameFloat(got.Lat, rec.Lat) || !sameFloat(got.Lon, rec.Lon) {
			return fmt.Errorf("self-test %s: coordinates changed: got (%v,%v) want (%v,%v)", rec.Key(), got.Lat, got.Lon, rec.Lat, rec.Lon)
		}
		if len(got.Apps) != len(rec.Apps) {
			return fmt.Errorf("self-test %s: apps changed: got %v want %v", rec.Key(), got.Apps, rec.Apps)
		}
		for i := range got.Apps {
			if got.Apps[i] != rec.Apps[i] {
				return fmt.Errorf("self-test %s: apps changed: got %v want %v", rec.Key(), got.Apps, rec.Apps)
			}
		}
		logger.Info("self-test record ok", loggerpkg.F("key", rec.Key()), loggerpkg.F("apps", len(rec.Apps)))
	}
	return nil
}

func sameFloat(a, b float64) bool {
	return math.Float64bits(a) == math.Float64bits(b)
}
