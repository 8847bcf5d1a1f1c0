package interfaces

import (
	"context"

	"saldobot/internal/entities"
)

type Messenger interface {
	SendMessage(ctx context.Context, to, content string) error
}

type BalanceCache interface {
	Write(ctx context.Context, accountNumber, service, balance string) error
	Read(ctx context.Context, accountNumber, service string) (entities.BalanceRecord, error)
}

type Notifier interface {
	NotifyBalance(ctx context.Context, service, accountNumber, balance string) error
}
