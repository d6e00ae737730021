package rebase

import "github.com/crittermap/geodelta/internal/changeset"

// ConflictItem is a three-way disagreement about one column of one
// row: the local pre-image, the upstream post-image and the local
// post-image.
type ConflictItem struct {
	Column int
	Base   changeset.Value
	Theirs changeset.Value
	Ours   changeset.Value
}

// ConflictFeature groups the conflict items of a single row.
type ConflictFeature struct {
	Table string
	Pkey  changeset.Value
	Items []ConflictItem
}
