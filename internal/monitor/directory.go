package monitor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *pgxpool.Pool the loader needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type DirectoryMember struct {
	Extension string
	Name      string
	Interface string
}

type DirectoryEntry struct {
	ID      string
	Name    string
	Members []DirectoryMember
}

// Directory is the static queue roster keyed by queue id. It seeds the
// table; it never restricts what live events may add.
type Directory map[string]DirectoryEntry

type QueueRow struct {
	Extension   string
	Description *string
}

type MemberRow struct {
	QueueID string
	Data    string
}

type UserRow struct {
	Extension string
	Name      *string
}

const (
	queuesSQL  = `SELECT extension, descr FROM queues_config ORDER BY extension`
	membersSQL = `SELECT id, data FROM queues_details WHERE keyword = 'member' ORDER BY id`
	usersSQL   = `SELECT extension, name FROM users`
)

// LoadDirectory reads queues, static members and extension names from the
// PBX configuration database.
func LoadDirectory(ctx context.Context, q Querier) (Directory, error) {
	queues, err := collect(ctx, q, queuesSQL, pgx.RowToStructByPos[QueueRow])
	if err != nil {
		return nil, fmt.Errorf("load queues: %w", err)
	}
	members, err := collect(ctx, q, membersSQL, pgx.RowToStructByPos[MemberRow])
	if err != nil {
		return nil, fmt.Errorf("load queue members: %w", err)
	}
	users, err := collect(ctx, q, usersSQL, pgx.RowToStructByPos[UserRow])
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return BuildDirectory(queues, members, users), nil
}

func collect[T any](ctx context.Context, q Querier, sql string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

// BuildDirectory joins the three row sets. Member rows for unknown queues
// and unparsable interfaces are skipped.
func BuildDirectory(queues []QueueRow, members []MemberRow, users []UserRow) Directory {
	names := make(map[string]string, len(users))
	for _, u := range users {
		if u.Name != nil && *u.Name != "" {
			names[u.Extension] = *u.Name
		}
	}

	dir := make(Directory, len(queues))
	for _, q := range queues {
		name := QueueLabel(q.Extension)
		if q.Description != nil && *q.Description != "" {
			name = *q.Description
		}
		dir[q.Extension] = DirectoryEntry{ID: q.Extension, Name: name}
	}

	for _, m := range members {
		entry, ok := dir[m.QueueID]
		if !ok {
			continue
		}
		iface, ext, ok := ParseMemberData(m.Data)
		if !ok || entry.has(ext) {
			continue
		}
		name, ok := names[ext]
		if !ok {
			name = ExtensionLabel(ext)
		}
		entry.Members = append(entry.Members, DirectoryMember{
			Extension: ext,
			Name:      name,
			Interface: iface,
		})
		dir[m.QueueID] = entry
	}

	return dir
}

func (e DirectoryEntry) has(ext string) bool {
	for _, m := range e.Members {
		if m.Extension == ext {
			return true
		}
	}
	return false
}

func QueueLabel(id string) string { return "Queue " + id }

func ExtensionLabel(ext string) string { return "Extension " + ext }
