package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestGetAgentByTenant(t *testing.T) {
	now := time.Now()
	tenant := uuid.New()
	agentID := uuid.New()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
		wantName  string
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .+ FROM agent_configs WHERE tenant_id").
					WithArgs(tenant).
					WillReturnRows(sqlmock.NewRows([]string{
						"id", "tenant_id", "name", "active", "instructions", "supplemental_instructions", "created_at", "updated_at",
					}).AddRow(agentID.String(), tenant.String(), "Ava", true, "Be kind.", nil, now, now))
			},
			wantName: "Ava",
		},
		{
			name: "missing maps to ErrNotFound",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .+ FROM agent_configs WHERE tenant_id").
					WithArgs(tenant).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)

			got, err := NewPGAgentStore(db).GetAgentByTenant(context.Background(), tenant)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Name != tt.wantName || got.ID != agentID || got.SupplementalInstructions != "" {
					t.Errorf("got %+v", got)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestGetBehaviorSettingsInsertsDefaults(t *testing.T) {
	db, mock := setupMockDB(t)
	agentID := uuid.New()
	cols := []string{
		"agent_id", "response_delay_ms", "use_chunked_messages", "max_chunks", "max_consecutive_replies",
		"typing_simulation", "allow_audio", "allow_images", "allow_handoff_human", "allow_scheduling", "updated_at",
	}

	mock.ExpectQuery("SELECT .+ FROM agent_behavior_settings WHERE agent_id").
		WithArgs(agentID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO agent_behavior_settings").
		WithArgs(agentID, 1500, true, 3, 3, true, false, false, true, false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(agentID.String(), 1500, true, 3, 3, true, false, false, true, false, time.Now()))

	bs, err := NewPGAgentStore(db).GetBehaviorSettings(context.Background(), agentID)
	if err != nil {
		t.Fatalf("GetBehaviorSettings: %v", err)
	}
	if bs.ResponseDelayMs != 1500 || bs.MaxChunks != 3 || !bs.AllowHandoffHuman {
		t.Errorf("settings = %+v", bs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListRecentMessagesReversesToChronological(t *testing.T) {
	db, mock := setupMockDB(t)
	threadID, tenant := uuid.New(), uuid.New()
	now := time.Now()
	cols := []string{"id", "tenant_id", "thread_id", "sender", "sender_id", "content", "media_kinds", "external_id", "created_at"}

	mock.ExpectQuery("SELECT .+ FROM messages WHERE thread_id").
		WithArgs(threadID, 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), tenant.String(), threadID.String(), "agent", nil, "second", "{}", nil, now).
			AddRow(uuid.NewString(), tenant.String(), threadID.String(), "contact", "5511", "", "{audio}", "ext-1", now.Add(-time.Minute)))

	msgs, err := NewPGMessageStore(db).ListRecentMessages(context.Background(), threadID, 2)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Sender != store.SenderContact || msgs[1].Content != "second" {
		t.Errorf("order wrong: %+v", msgs)
	}
	if len(msgs[0].MediaKinds) != 1 || msgs[0].MediaKinds[0] != store.MediaAudio {
		t.Errorf("media kinds = %v, want [audio]", msgs[0].MediaKinds)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpsertContactLinkReturnsWinner(t *testing.T) {
	db, mock := setupMockDB(t)
	tenant, conn := uuid.New(), uuid.New()
	mine, winner := uuid.New(), uuid.New()
	now := time.Now()
	cols := []string{"id", "tenant_id", "connection_id", "external_chat_id", "thread_id", "display_name", "last_activity_at", "created_at"}

	mock.ExpectQuery("INSERT INTO external_contact_links .+ ON CONFLICT \\(tenant_id, connection_id, external_chat_id\\)").
		WithArgs(sqlmock.AnyArg(), tenant, conn, "5511999", mine, "Maria", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), tenant.String(), conn.String(), "5511999", winner.String(), "Maria", now, now))

	got, err := NewPGConnectionStore(db).UpsertContactLink(context.Background(), &store.ExternalContactLink{
		TenantID: tenant, ConnectionID: conn, ExternalChatID: "5511999", ThreadID: mine, DisplayName: "Maria",
	})
	if err != nil {
		t.Fatalf("UpsertContactLink: %v", err)
	}
	if got.ThreadID != winner {
		t.Errorf("ThreadID = %s, want winner %s", got.ThreadID, winner)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetHandoffNoRowIsFalse(t *testing.T) {
	db, mock := setupMockDB(t)
	threadID := uuid.New()

	mock.ExpectQuery("SELECT handed_off, actor, updated_at FROM thread_handoffs").
		WithArgs(threadID).
		WillReturnError(sql.ErrNoRows)

	h, err := NewPGThreadStore(db).GetHandoff(context.Background(), threadID)
	if err != nil {
		t.Fatalf("GetHandoff: %v", err)
	}
	if h.HandedOff {
		t.Error("HandedOff = true, want false")
	}
}

func TestUpdateThreadStatusNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE threads SET status").
		WithArgs("closed", id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewPGThreadStore(db).UpdateThreadStatus(context.Background(), id, store.ThreadClosed)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAutomatedReplyAllowed(t *testing.T) {
	tenant := uuid.New()
	tests := []struct {
		name  string
		rows  *sqlmock.Rows
		noRow bool
		want  bool
	}{
		{name: "no usage row", noRow: true, want: true},
		{name: "unlimited", rows: sqlmock.NewRows([]string{"a", "l"}).AddRow(500, 0), want: true},
		{name: "under limit", rows: sqlmock.NewRows([]string{"a", "l"}).AddRow(9, 10), want: true},
		{name: "at limit", rows: sqlmock.NewRows([]string{"a", "l"}).AddRow(10, 10), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			q := mock.ExpectQuery("SELECT automated_replies, automated_replies_limit FROM tenant_usage").WithArgs(tenant)
			if tt.noRow {
				q.WillReturnError(sql.ErrNoRows)
			} else {
				q.WillReturnRows(tt.rows)
			}

			got, err := NewPGUsageStore(db).AutomatedReplyAllowed(context.Background(), tenant)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
