package model

import "time"

// ProviderConnection — запись о живом соединении агента провайдера.
// Существует только в памяти координатора, ключ — ConnectionID.
type ProviderConnection struct {
	// ConnectionID — идентификатор соединения (UUID)
	ConnectionID string
	// ProviderAddress — адрес, заявленный при регистрации
	ProviderAddress string
	// AvailableStorage — свободный объём в GB на момент регистрации
	AvailableStorage int64
	// ConnectedAt — время регистрации
	ConnectedAt time.Time
}
