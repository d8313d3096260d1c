package memory

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

var (
	tblItems    = "items"
	tblVersions = "versions"
	tblRequests = "approval_requests"
)

// numberKey renders a version number so that string order is numeric order.
func numberKey(n int) string {
	return fmt.Sprintf("%012d", n)
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblItems: {
			Name: tblItems,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Kind"},
							&memdb.StringFieldIndex{Field: "ID"},
						},
					},
				},
				"kind": {
					Name:    "kind",
					Indexer: &memdb.StringFieldIndex{Field: "Kind"},
				},
				"kind_site_status": {
					Name: "kind_site_status",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Kind"},
							&memdb.StringFieldIndex{Field: "SiteID"},
							&memdb.StringFieldIndex{Field: "Status"},
						},
					},
				},
			},
		},
		tblVersions: {
			Name: tblVersions,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"subject": {
					Name: "subject",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "SubjectKind"},
							&memdb.StringFieldIndex{Field: "SubjectID"},
						},
					},
				},
				"subject_number": {
					Name:   "subject_number",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "SubjectKind"},
							&memdb.StringFieldIndex{Field: "SubjectID"},
							&memdb.StringFieldIndex{Field: "Number"},
						},
					},
				},
			},
		},
		tblRequests: {
			Name: tblRequests,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"subject": {
					Name: "subject",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "SubjectKind"},
							&memdb.StringFieldIndex{Field: "SubjectID"},
						},
					},
				},
				"subject_status": {
					Name: "subject_status",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "SubjectKind"},
							&memdb.StringFieldIndex{Field: "SubjectID"},
							&memdb.StringFieldIndex{Field: "Status"},
						},
					},
				},
			},
		},
	},
}
