package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// Helpers shared by the SQL backends. Both store ts as unix nanoseconds and
// metadata as a nullable JSON string.

func encodeMetadata(meta *wire.MessageMetadata) (any, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func scanMessages(rows *sql.Rows) ([]wire.ThreadMessage, error) {
	var out []wire.ThreadMessage
	for rows.Next() {
		var (
			msg   wire.ThreadMessage
			role  string
			nanos int64
			meta  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &nanos, &meta); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = wire.Role(role)
		msg.Ts = time.Unix(0, nanos).UTC()
		if meta.Valid && meta.String != "" {
			var m wire.MessageMetadata
			if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
			msg.Metadata = &m
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
