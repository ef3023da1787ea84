package types

// PlaceMetadata is passed through opaquely from the retrieval gateway.
type PlaceMetadata struct {
	Title        string   `json:"title"`
	Address      string   `json:"address,omitempty"`
	District     string   `json:"district,omitempty"`
	SubCategory  string   `json:"sub_category,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	ReviewCount  int      `json:"review_count"`
	AverageStars float64  `json:"average_stars"`
}

// Candidate is one retrieved place with its scores.
type Candidate struct {
	ID         string        `json:"id"`
	Similarity float64       `json:"similarity"`
	Popularity float64       `json:"popularity"`
	Seen       bool          `json:"seen,omitempty"`
	Score      float64       `json:"score"`
	Metadata   PlaceMetadata `json:"metadata"`
}

// Location returns the place coordinates, ok=false when unknown.
func (c Candidate) Location() (Location, bool) {
	if c.Metadata.Latitude == nil || c.Metadata.Longitude == nil {
		return Location{Address: c.Metadata.Address}, false
	}
	return Location{
		Latitude:  *c.Metadata.Latitude,
		Longitude: *c.Metadata.Longitude,
		Address:   c.Metadata.Address,
	}, true
}
