package domain

import "time"

// UnknownCountryCode marks a session whose origin could not be resolved.
// Unknown is a first-class location value, not an error.
const UnknownCountryCode = "XX"

type GeoLocation struct {
	CountryCode string    `json:"country_code"`
	Country     string    `json:"country"`
	Region      string    `json:"region"`
	City        string    `json:"city"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

func UnknownLocation(at time.Time) GeoLocation {
	return GeoLocation{
		CountryCode: UnknownCountryCode,
		Country:     "Unknown",
		ResolvedAt:  at,
	}
}

func (g GeoLocation) Unknown() bool {
	return g.CountryCode == UnknownCountryCode || g.CountryCode == ""
}

// SessionGeoRecord is the persisted location of one authenticated session.
// SessionID is unique: tracking the same session twice updates the row.
type SessionGeoRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"size:128;uniqueIndex;not null" json:"session_id"`
	UserID         string    `gorm:"size:64;index;not null" json:"user_id"`
	OrganizationID string    `gorm:"size:64;index:idx_geo_org_time;not null" json:"organization_id"`
	CountryCode    string    `gorm:"size:2;index;not null" json:"country_code"`
	Country        string    `gorm:"size:128" json:"country"`
	Region         string    `gorm:"size:128" json:"region"`
	City           string    `gorm:"size:128" json:"city"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `gorm:"index:idx_geo_org_time;not null" json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type CountryStat struct {
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country"`
	Count       int64   `json:"count"`
	Percentage  float64 `json:"percentage"`
}

type RegionStat struct {
	Region     string  `json:"region"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type HeatmapPoint struct {
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lng"`
	Weight           int64   `json:"weight"`
	NormalizedWeight float64 `json:"normalized_weight"`
}
