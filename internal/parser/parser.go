// Package parser turns raw tab-separated "apps installed" lines into records.
package parser

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lechuhuuha/memcload/internal/domain"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

const fieldCount = 5

var (
	ErrTooFewFields    = errors.New("line has fewer than 5 tab-separated fields")
	ErrTooManyFields   = errors.New("line has more than 5 tab-separated fields")
	ErrEmptyDeviceType = errors.New("empty device type")
	ErrEmptyDeviceID   = errors.New("empty device id")
)

// Parser parses lines and logs the tolerated per-field failures.
type Parser struct {
	logger loggerpkg.Logger
}

func New(logr loggerpkg.Logger) *Parser {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	return &Parser{logger: logr}
}

// Parse converts one line into a Record.
//
// Malformed app ids are dropped one by one; a malformed coordinate pair leaves the
// record without geo data. Neither fails the record. Only a wrong field count or an
// empty device type/id does.
func (p *Parser) Parse(line string) (domain.Record, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	switch {
	case len(parts) < fieldCount:
		return domain.Record{}, ErrTooFewFields
	case len(parts) > fieldCount:
		return domain.Record{}, ErrTooManyFields
	}
	devType, devID, rawLat, rawLon, rawApps := parts[0], parts[1], parts[2], parts[3], parts[4]
	if devType == "" {
		return domain.Record{}, ErrEmptyDeviceType
	}
	if devID == "" {
		return domain.Record{}, ErrEmptyDeviceID
	}

	rec := domain.Record{
		DeviceType: devType,
		DeviceID:   devID,
		Apps:       p.parseApps(rawApps, line),
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(rawLat), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rawLon), 64)
	if latErr != nil || lonErr != nil {
		p.logger.Info("invalid geo coords", loggerpkg.F("line", line))
	} else {
		rec.Lat, rec.Lon, rec.HasGeo = lat, lon, true
	}
	return rec, nil
}

func (p *Parser) parseApps(raw, line string) []int64 {
	items := strings.Split(raw, ",")
	apps := make([]int64, 0, len(items))
	dropped := 0
	for _, item := range items {
		item = strings.TrimSpace(item)
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			dropped++
			continue
		}
		apps = append(apps, id)
	}
	if dropped > 0 {
		p.logger.Warn("not all user apps are digits",
			loggerpkg.F("line", line),
			loggerpkg.F("dropped", dropped))
	}
	return apps
}
