package types

import "strings"

const (
	CategoryCafe       = "cafe"
	CategoryRestaurant = "restaurant"
	CategoryAttraction = "attraction"
)

var categoryAliases = map[string]string{
	"cafe": CategoryCafe, "café": CategoryCafe, "카페": CategoryCafe, "coffee": CategoryCafe,
	"restaurant": CategoryRestaurant, "food": CategoryRestaurant, "음식점": CategoryRestaurant,
	"식당": CategoryRestaurant, "맛집": CategoryRestaurant,
	"attraction": CategoryAttraction, "activity": CategoryAttraction, "content": CategoryAttraction,
	"콘텐츠": CategoryAttraction, "놀거리": CategoryAttraction,
}

// CanonicalCategory maps known aliases to cafe, restaurant or attraction and
// returns the trimmed, lower-cased input otherwise.
func CanonicalCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if canonical, ok := categoryAliases[c]; ok {
		return canonical
	}
	return c
}
