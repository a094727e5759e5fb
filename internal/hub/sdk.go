package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrNoProject is returned by SDK calls when no project ID is configured.
var ErrNoProject = errors.New("hub: project_id is not configured")

// User is the signed-in platform user.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Row is one side record of an upload in the platform's data store.
type Row struct {
	FileName string `json:"file_name"`
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

// CurrentUser returns the signed-in user. An unauthorized answer means "no
// session" and comes back as a HubError wrapping ErrUnauthorized.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	if c.projectID == "" {
		return nil, ErrNoProject
	}

	path := fmt.Sprintf("/baas/v1/project/%s/project-user/current", c.projectID)

	obj, err := c.callREST(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	data, ok := ObjectField(obj, "data")
	if !ok {
		// Some deployments return the user at the top level.
		data = obj
	}

	u := &User{}
	u.ID, _ = StringField(data, "user_id")
	u.FirstName, _ = StringField(data, "first_name")
	u.LastName, _ = StringField(data, "last_name")

	if email, found := StringField(data, "email_id"); found {
		u.Email = email
	} else {
		u.Email, _ = StringField(data, "email")
	}

	if u.ID == "" && u.Email == "" {
		return nil, fmt.Errorf("hub: current user response has no user: %w", ErrNotJSON)
	}

	return u, nil
}

// InsertRows appends rows to the given data store table.
func (c *Client) InsertRows(ctx context.Context, tableID string, rows []Row) error {
	if c.projectID == "" {
		return ErrNoProject
	}

	path := fmt.Sprintf("/baas/v1/project/%s/table/%s/row", c.projectID, tableID)

	if _, err := c.callREST(ctx, http.MethodPost, path, rows); err != nil {
		return fmt.Errorf("hub: inserting %d row(s) into table %s: %w", len(rows), tableID, err)
	}

	c.logger.Debug("inserted rows",
		slog.String("table_id", tableID),
		slog.Int("count", len(rows)),
	)

	return nil
}
