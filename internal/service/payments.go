package service

import (
	"context"

	"go.uber.org/zap"
)

// PaymentProcessor charges a user's external payment method before coins are
// minted for a purchase. Implementations must return an error when the charge
// does not settle; returning nil commits the mint.
type PaymentProcessor interface {
	Charge(ctx context.Context, user string, amount int64, method, token string) error
}

// SimulatedProcessor approves every charge. It stands in for a real gateway
// in development and in the test suite.
type SimulatedProcessor struct {
	logger *zap.Logger
}

func NewSimulatedProcessor(logger *zap.Logger) *SimulatedProcessor {
	return &SimulatedProcessor{logger: logger}
}

func (p *SimulatedProcessor) Charge(ctx context.Context, user string, amount int64, method, token string) error {
	p.logger.Debug("simulated charge",
		zap.String("user", user), zap.Int64("amount", amount),
		zap.String("method", method))
	return nil
}
