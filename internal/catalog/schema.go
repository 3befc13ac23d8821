package catalog

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunPreparing string = "PREPARING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

const (
	RecordValid    string = "valid"
	RecordExcluded string = "excluded"
)

// Run is one prepared training run. Config holds the YAML document the run
// was prepared from.
type Run struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name   string    `gorm:"not null"`
	Task   string    `gorm:"size:40;not null"`
	Model  string
	Config string
	Status string `gorm:"size:20;not null"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Categories []Category    `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Records    []ImageRecord `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// Category is one entry of a split's category index.
type Category struct {
	RunId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Split      string    `gorm:"primaryKey;size:10"`
	CategoryId int64     `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
}

// ImageRecord is one row of the prepared table: the parsed record plus the
// derived validation columns.
type ImageRecord struct {
	RunId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Split    string    `gorm:"primaryKey;size:10"`
	ImageId  int64     `gorm:"primaryKey"`
	FileName string    `gorm:"not null"`
	Width    int
	Height   int
	// Position is the record's index in the annotation file.
	Position int `gorm:"not null;default:0"`

	AnnotationCount int            `gorm:"not null;default:0"`
	Annotations     datatypes.JSON `gorm:"type:jsonb"` // [{"id":…,"bbox":[…]},…]
	Status          string         `gorm:"size:20;not null"`
	Issues          datatypes.JSON `gorm:"type:jsonb"` // ["degenerate_box",…]
}
