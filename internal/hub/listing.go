package hub

// uploadsTable is the table name the function reads rows from. Query results
// may wrap each row as {"Uploads": {...}}.
const uploadsTable = "Uploads"

// Listing is the decoded GET response of the function endpoint.
type Listing struct {
	Count int          `json:"count"`
	Rows  []ListingRow `json:"rows"`
}

// ListingRow is one stored upload as reported by the function.
type ListingRow struct {
	RowID       string `json:"row_id"`
	FileName    string `json:"file_name"`
	FileID      string `json:"file_id"`
	FileSize    int64  `json:"file_size"`
	CreatedTime string `json:"created_time"`
}

// ParseListing decodes a listing body. Rows that are not objects are skipped.
func ParseListing(body map[string]any) *Listing {
	l := &Listing{}

	items, _ := body["data"].([]any)
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		if inner, wrapped := ObjectField(obj, uploadsTable); wrapped {
			obj = inner
		}

		var row ListingRow
		row.RowID, _ = StringField(obj, "ROWID")
		row.FileName, _ = StringField(obj, "file_name")
		row.FileID, _ = StringField(obj, "file_id")
		row.FileSize, _ = Int64Field(obj, "file_size")
		row.CreatedTime, _ = StringField(obj, "CREATEDTIME")

		l.Rows = append(l.Rows, row)
	}

	if n, ok := Int64Field(body, "count"); ok {
		l.Count = int(n)
	} else {
		l.Count = len(l.Rows)
	}

	return l
}
