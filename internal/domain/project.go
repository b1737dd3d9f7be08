package domain

import (
	"time"
)

// Project is the root of the resource graph. Sessions and folders belong to a
// project and share one display-ordering space.
type Project struct {
	ID        string
	Name      string
	Path      string // main repository checkout
	CreatedAt time.Time
}

// Folder groups sessions for display. Folders occupy the same ordering space
// as their sibling sessions, so display-order computation must consider both.
type Folder struct {
	ID           string
	ProjectID    string
	Name         string
	DisplayOrder int
	CreatedAt    time.Time
}
