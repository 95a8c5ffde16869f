package models

// ArbitraryData is a raw key/value row used for locally persisted preferences.
type ArbitraryData struct {
	ID    string `gorm:"primaryKey"`
	Value []byte
}
