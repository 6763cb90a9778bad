package locator

import "testing"

// The pipeline addresses these columns by name in raw where clauses; the
// schema must expose them exactly as written, SID suffix unsplit.
func TestOpenDB_SIDColumnNames(t *testing.T) {
	db := newTestDB(t)

	var n int64
	if err := db.Raw("SELECT count(conversation_sid) FROM conversations").Scan(&n).Error; err != nil {
		t.Fatalf("conversations schema: %v", err)
	}
	if err := db.Raw("SELECT count(message_sid) FROM messages").Scan(&n).Error; err != nil {
		t.Fatalf("messages message_sid: %v", err)
	}
	if err := db.Raw("SELECT count(conversation_sid) FROM messages").Scan(&n).Error; err != nil {
		t.Fatalf("messages conversation_sid: %v", err)
	}
	if err := db.Raw("SELECT count(sha256) FROM ingested_files").Scan(&n).Error; err != nil {
		t.Fatalf("ingested_files schema: %v", err)
	}
}
