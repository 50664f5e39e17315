// Package economy runs settlement markets, the trade routes between them
// and the caravans that travel those routes.
package economy

import (
	"errors"
	"fmt"
)

// ErrUnknownCommodity is returned for commodities a market does not trade.
var ErrUnknownCommodity = errors.New("unknown commodity")

// ErrRouteClosed is returned when dispatching on a closed route.
var ErrRouteClosed = errors.New("route closed")

// Commodity is a traded good.
type Commodity string

const (
	Food   Commodity = "food"
	Wood   Commodity = "wood"
	Iron   Commodity = "iron"
	Luxury Commodity = "luxury"
)

// Commodities lists every traded good in a fixed order.
var Commodities = []Commodity{Food, Wood, Iron, Luxury}

// ParseCommodity validates a commodity name.
func ParseCommodity(s string) (Commodity, error) {
	for _, c := range Commodities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownCommodity)
}

type commodityTraits struct {
	BasePrice  float64
	Volatility float64
	Elasticity float64
}

var traits = map[Commodity]commodityTraits{
	Food:   {BasePrice: 2, Volatility: 0.1, Elasticity: 0.2},
	Wood:   {BasePrice: 3, Volatility: 0.1, Elasticity: 0.5},
	Iron:   {BasePrice: 5, Volatility: 0.15, Elasticity: 0.6},
	Luxury: {BasePrice: 20, Volatility: 0.3, Elasticity: 1.2},
}

// PriceModifier multiplies a commodity's target price until it lapses.
type PriceModifier struct {
	Source string  `json:"source"`
	Factor float64 `json:"factor"`
	Until  uint64  `json:"until"`
}

// CommodityState is one good in one market.
type CommodityState struct {
	BasePrice    float64         `json:"base_price"`
	CurrentPrice float64         `json:"current_price"` // >= 1
	Supply       float64         `json:"supply"`
	Demand       float64         `json:"demand"`
	BaseDemand   float64         `json:"base_demand"`
	Volatility   float64         `json:"volatility"`
	Elasticity   float64         `json:"elasticity"`
	Modifiers    []PriceModifier `json:"modifiers,omitempty"`
}

func (c *CommodityState) modifier() float64 {
	m := 1.0
	for _, pm := range c.Modifiers {
		m *= pm.Factor
	}
	return m
}

// ChargingPressure and DischargingPressure let a commodity be scored by
// the balance package.
func (c *CommodityState) ChargingPressure() float64    { return c.Supply }
func (c *CommodityState) DischargingPressure() float64 { return c.Demand }
