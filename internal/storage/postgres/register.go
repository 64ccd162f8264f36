package postgres

import "votermatch/internal/storage"

func init() {
	storage.Register("postgres", New)
}
