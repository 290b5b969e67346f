package strategy

import (
	"statarb/internal/domain"
)

// Pair binds a pair definition to its spread model.
type Pair struct {
	Config domain.PairConfig
	Model  SpreadModel
}

// NewPair picks the model the definition asks for.
func NewPair(cfg domain.PairConfig, minSamples int) *Pair {
	var model SpreadModel
	if cfg.Model == domain.ModelRolling {
		model = NewRollingModel(cfg.HedgeRatio, cfg.WindowSize, minSamples)
	} else {
		model = FittedModel{Hedge: cfg.HedgeRatio, Mean: cfg.Mean, StdDev: cfg.StdDev}
	}
	return &Pair{Config: cfg, Model: model}
}

// Evaluate reads both legs and decides. A missing leg or a model that is
// still warming up returns domain.ErrNotReady.
func (p *Pair) Evaluate(market domain.MarketReader, params Params, pos *domain.Position, halted bool) (Action, error) {
	q1, ok1 := market.Read(p.Config.Leg1)
	q2, ok2 := market.Read(p.Config.Leg2)
	if !ok1 || !ok2 {
		return Action{Pair: p.Config.Key()}, domain.ErrNotReady
	}

	z, err := p.Model.ZScore(q1.LastPrice, q2.LastPrice)
	if err != nil {
		return Action{Pair: p.Config.Key()}, err
	}
	act := Decide(p.Config, params, pos, z, q1.Imbalance(), q2.Imbalance(), halted)
	act.P1, act.P2 = q1.LastPrice, q2.LastPrice
	return act, nil
}
