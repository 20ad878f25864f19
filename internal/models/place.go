package models

// SignificantPlace is a location a user visits repeatedly or for a
// meaningful duration. Name and address are filled asynchronously by the
// geocoding worker and are not required for a place to be usable.
type SignificantPlace struct {
	ID        int64   `json:"id" db:"id"`
	UserID    string  `json:"userId" db:"user_id"`
	Name      string  `json:"name,omitempty" db:"name"`
	Address   string  `json:"address,omitempty" db:"address"`
	Latitude  float64 `json:"latitude" db:"latitude_centroid"`
	Longitude float64 `json:"longitude" db:"longitude_centroid"`
	Geocoded  bool    `json:"geocoded" db:"geocoded"`
	Version   int64   `json:"version" db:"version"`
}
