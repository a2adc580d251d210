package feed

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	counterNoteCode = "note_code"
	counterPubCode  = "pub_code"
)

// Counter backs the strictly increasing NoteCode and PubCode sequences. The
// row is read under a row lock inside the caller's transaction so no two
// publications can ever receive the same code.
type Counter struct {
	Name  string `gorm:"column:name;primaryKey;size:32;not null"`
	Value int64  `gorm:"column:value;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Counter) TableName() string {
	return "feed_counters"
}

// SeedCounters inserts the sequence rows if they are missing. Run at schema
// migration time so nextCode never has to race on first allocation.
func SeedCounters(db *gorm.DB) error {
	rows := []Counter{
		{Name: counterNoteCode, Value: 0},
		{Name: counterPubCode, Value: 0},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func nextCode(tx *gorm.DB, name string) (int64, error) {
	var counter Counter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", name).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = Counter{Name: name, Value: 1}
		if err := tx.Create(&counter).Error; err != nil {
			return 0, err
		}
		return counter.Value, nil
	}
	if err != nil {
		return 0, err
	}
	counter.Value++
	if err := tx.Save(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func nextNoteCode(tx *gorm.DB) (int64, error) {
	return nextCode(tx, counterNoteCode)
}

func nextPubCode(tx *gorm.DB) (int64, error) {
	return nextCode(tx, counterPubCode)
}
