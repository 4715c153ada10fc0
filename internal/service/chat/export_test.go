package chat

import "time"

func SetMemoryClock(s *MemoryStore, now func() time.Time) { s.now = now }

func SetSQLiteClock(s *SQLiteStore, now func() time.Time) { s.now = now }
