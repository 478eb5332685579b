package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

// Database is a point lookup against a local geolocation dataset.
type Database interface {
	Lookup(ip net.IP) (domain.GeoLocation, error)
	Close() error
}

// MaxMindDatabase reads a GeoLite2/GeoIP2 City mmdb file.
type MaxMindDatabase struct {
	reader *geoip2.Reader
}

func OpenMaxMindDatabase(path string) (*MaxMindDatabase, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo database %s: %w", path, err)
	}
	return &MaxMindDatabase{reader: reader}, nil
}

func (d *MaxMindDatabase) Lookup(ip net.IP) (domain.GeoLocation, error) {
	rec, err := d.reader.City(ip)
	if err != nil {
		return domain.GeoLocation{}, fmt.Errorf("city lookup: %w", err)
	}

	loc := domain.GeoLocation{
		CountryCode: rec.Country.IsoCode,
		Country:     rec.Country.Names["en"],
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

func (d *MaxMindDatabase) Close() error {
	return d.reader.Close()
}

// UnavailableDatabase stands in when no mmdb file is configured or the
// configured one cannot be opened. Every lookup resolves to the unknown
// location, so the rest of the pipeline keeps working.
type UnavailableDatabase struct{}

func NewUnavailableDatabase() UnavailableDatabase { return UnavailableDatabase{} }

func (UnavailableDatabase) Lookup(net.IP) (domain.GeoLocation, error) {
	return domain.GeoLocation{}, nil
}

func (UnavailableDatabase) Close() error { return nil }
