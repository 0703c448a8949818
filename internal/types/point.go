// README: Geographic point in decimal degrees (WGS84).
package types

type Point struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}
