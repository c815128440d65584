package model

import "time"

// ChainCheckpointID — ключ записи sync_state для проектора событий контракта.
const ChainCheckpointID = "chain_events"

// Checkpoint — последний полностью обработанный блок.
type Checkpoint struct {
	// ID — имя потока событий
	ID string
	// LastBlock — номер блока, все логи которого применены
	LastBlock uint64
	// UpdatedAt — время обновления
	UpdatedAt time.Time
}
