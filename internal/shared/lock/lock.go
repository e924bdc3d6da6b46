package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy sinaliza contenção: o lock já pertence a outro chamador.
	// Não há fila de espera; quem recebe ErrBusy decide se tenta de novo.
	ErrBusy = errors.New("lock busy")

	// ErrNotHeld indica release de um lease que não é mais o dono da chave
	// (expirou por TTL ou já foi liberado).
	ErrNotHeld = errors.New("lock not held")
)

// Lease representa a posse temporária de uma chave.
// O token diferencia donos: um lease expirado não consegue liberar
// a chave readquirida por outro chamador.
type Lease struct {
	Key   string
	Token string
}

// Locker é o primitivo de exclusão mútua nomeada do quickplay.
// A aquisição é um único check-and-set atômico contra o store compartilhado,
// nunca uma leitura de existência seguida de escrita. O TTL é válvula de
// segurança para donos que morreram, não o mecanismo primário de exclusão.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// WithLock executa fn com a chave adquirida e garante o release em todos os
// caminhos de saída, inclusive quando fn falha. Retorna ErrBusy sem executar
// fn se a chave estiver ocupada.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// lease expirado por TTL não é erro do chamador
		_ = l.Release(context.WithoutCancel(ctx), lease)
	}()

	return fn(ctx)
}
