package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDeliveryPriceSurgeAtNight(t *testing.T) {
	p := ComputeDeliveryPrice(4.2, 6, 2, 23)

	assert.True(t, p.IsSurge)
	assert.True(t, p.IsNight)
	assert.Equal(t, 2.5, p.Base)
	assert.Equal(t, 2.1, p.DistanceFee)
	assert.Equal(t, 1.5, p.SurgeFee)
	assert.Equal(t, 1.0, p.NightFee)
	assert.Equal(t, 7.1, p.Total)
}

func TestComputeDeliveryPriceIsDeterministic(t *testing.T) {
	a := ComputeDeliveryPrice(3.33, 5, 0, 12)
	b := ComputeDeliveryPrice(3.33, 5, 0, 12)
	assert.Equal(t, a, b)
}

func TestComputeDeliveryPriceTotalMatchesComponents(t *testing.T) {
	cases := []struct {
		distance float64
		orders   int
		drivers  int
		hour     int
	}{
		{0, 0, 0, 0},
		{1.17, 2, 1, 21},
		{12.345, 9, 3, 22},
		{7.77, 7, 3, 3},
	}
	for _, tc := range cases {
		p := ComputeDeliveryPrice(tc.distance, tc.orders, tc.drivers, tc.hour)
		assert.InDelta(t, p.Base+p.DistanceFee+p.SurgeFee+p.NightFee, p.Total, 0.005)
	}
}

func TestComputeDeliveryPriceThresholds(t *testing.T) {
	// exactly twice as many orders as drivers is not a surge
	assert.False(t, ComputeDeliveryPrice(1, 4, 2, 12).IsSurge)
	// no drivers counts as one
	assert.True(t, ComputeDeliveryPrice(1, 3, 0, 12).IsSurge)
	assert.False(t, ComputeDeliveryPrice(1, 0, 0, 21).IsNight)
	assert.True(t, ComputeDeliveryPrice(1, 0, 0, 22).IsNight)
	// early morning hours are not night-priced
	assert.False(t, ComputeDeliveryPrice(1, 0, 0, 2).IsNight)
}

func TestDeliveryFeeWaivers(t *testing.T) {
	price := ComputeDeliveryPrice(9, 0, 1, 12)

	assert.Equal(t, 0.0, DeliveryFee(price, 52, 50, FulfillmentDelivery))
	assert.Equal(t, 0.0, DeliveryFee(price, 50, 50, FulfillmentDelivery))
	assert.Equal(t, 0.0, DeliveryFee(price, 10, 50, FulfillmentPickup))
	assert.Equal(t, price.Total, DeliveryFee(price, 49.99, 50, FulfillmentDelivery))
}

func TestDistanceKm(t *testing.T) {
	paris := Point{Lat: 48.8566, Lng: 2.3522}
	assert.Equal(t, 0.0, DistanceKm(paris, paris))

	// Paris to London is roughly 344 km.
	london := Point{Lat: 51.5074, Lng: -0.1278}
	assert.InDelta(t, 343.5, DistanceKm(paris, london), 2)
	assert.Equal(t, DistanceKm(paris, london), DistanceKm(london, paris))
}

func TestNonFiniteInputsDoNotPanic(t *testing.T) {
	paris := Point{Lat: 48.8566, Lng: 2.3522}
	broken := Point{Lat: math.NaN(), Lng: 2}

	assert.False(t, broken.Valid())
	assert.False(t, Point{Lat: 91}.Valid())
	assert.False(t, Point{Lng: math.Inf(1)}.Valid())
	assert.True(t, paris.Valid())
	assert.Equal(t, 0.0, DistanceKm(paris, broken))

	for _, km := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := ComputeDeliveryPrice(km, 1, 1, 10)
		assert.Equal(t, 0.0, p.DistanceFee)
		assert.Equal(t, BaseFee, p.Total)
	}
}
