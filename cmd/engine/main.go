// Command engine hosts the trading engine core as an fx.App: instrument
// catalogue, the single-threaded reducer, per-exchange execution managers,
// and the audit publisher.
package main

import (
	"github.com/quantcore/tradengine/internal/app"
	"go.uber.org/fx"
)

func main() {
	fx.New(app.Module).Run()
}
