package models

import "github.com/google/uuid"

// Виды действующих лиц
const (
	ActorKindUser   = "user"
	ActorKindSystem = "system"
	ActorKindAdmin  = "admin"
)

// Actor описывает от чьего имени выполняется операция движка.
// Системный актор используется только планировщиком авто-аппрувов.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Kind string    `json:"kind"`
}

// UserActor создаёт актора-пользователя (покупатель или продавец сделки).
func UserActor(id uuid.UUID) Actor {
	return Actor{ID: id, Kind: ActorKindUser}
}

// AdminActor создаёт актора-администратора (разрешение споров).
func AdminActor(id uuid.UUID) Actor {
	return Actor{ID: id, Kind: ActorKindAdmin}
}

// SystemActor возвращает идентичность планировщика.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Kind: ActorKindSystem}
}

// IsSystem сообщает, действует ли планировщик.
func (a Actor) IsSystem() bool {
	return a.Kind == ActorKindSystem
}
