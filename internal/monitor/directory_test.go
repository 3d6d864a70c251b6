package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestBuildDirectory(t *testing.T) {
	dir := BuildDirectory(
		[]QueueRow{
			{Extension: "100", Description: strp("Support")},
			{Extension: "200", Description: nil},
			{Extension: "300", Description: strp("")},
		},
		[]MemberRow{
			{QueueID: "100", Data: "Local/9000@from-queue/n,0"},
			{QueueID: "100", Data: "PJSIP/9001,0"},
			{QueueID: "100", Data: "Local/9000@from-queue/n,1"},
			{QueueID: "200", Data: "Local/9001@from-queue/n,0"},
			{QueueID: "200", Data: "broken"},
			{QueueID: "999", Data: "Local/9002@from-queue/n,0"},
		},
		[]UserRow{
			{Extension: "9000", Name: strp("Ana")},
			{Extension: "9001", Name: nil},
		},
	)

	require.Len(t, dir, 3)

	support := dir["100"]
	assert.Equal(t, "Support", support.Name)
	assert.Equal(t, []DirectoryMember{
		{Extension: "9000", Name: "Ana", Interface: "Local/9000@from-queue/n"},
		{Extension: "9001", Name: "Extension 9001", Interface: "PJSIP/9001"},
	}, support.Members)

	assert.Equal(t, "Queue 200", dir["200"].Name)
	require.Len(t, dir["200"].Members, 1)
	assert.Equal(t, "9001", dir["200"].Members[0].Extension)

	assert.Equal(t, "Queue 300", dir["300"].Name)
	assert.Empty(t, dir["300"].Members)
	assert.NotContains(t, dir, "999")
}

type failingQuerier struct{ err error }

func (f failingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, f.err
}

func TestLoadDirectoryError(t *testing.T) {
	boom := errors.New("connection refused")
	dir, err := LoadDirectory(context.Background(), failingQuerier{err: boom})
	assert.Nil(t, dir)
	assert.ErrorIs(t, err, boom)
}
