package tagging

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Backend = (*KeywordBackend)(nil)

type stem struct {
	prefix string
	tag    string
}

var commonStems = []stem{
	{"조용", "조용한"}, {"한적", "한적한"}, {"아늑", "아늑한"}, {"활기", "활기찬"},
	{"시끌", "활기찬"}, {"분위기", "분위기 좋은"}, {"감성", "감성적인"}, {"뷰", "뷰 맛집"},
	{"야경", "야경"}, {"맛있", "맛집"}, {"맛집", "맛집"}, {"저렴", "가성비"}, {"가성비", "가성비"},
	{"넓", "넓은"}, {"깔끔", "깔끔한"}, {"주차", "주차 가능"}, {"데이트", "데이트"},
	{"혼자", "혼자 가기 좋은"}, {"친구", "친구 모임"}, {"가족", "가족 모임"}, {"반려", "반려동물 동반"},
	{"애견", "반려동물 동반"}, {"야외", "야외석"}, {"테라스", "테라스"}, {"루프탑", "루프탑"},
	{"quiet", "quiet"}, {"cozy", "cozy"}, {"cheap", "budget"}, {"budget", "budget"},
	{"view", "view"}, {"romantic", "romantic"}, {"spacious", "spacious"}, {"parking", "parking"},
}

var categoryStems = map[string][]stem{
	"cafe": {
		{"커피", "커피"}, {"라떼", "라떼"}, {"디저트", "디저트"}, {"케이크", "케이크"},
		{"빵", "베이커리"}, {"베이커리", "베이커리"}, {"작업", "작업하기 좋은"}, {"공부", "공부하기 좋은"},
		{"콘센트", "콘센트"}, {"브런치", "브런치"}, {"coffee", "coffee"}, {"dessert", "dessert"},
		{"latte", "latte"}, {"bakery", "bakery"},
	},
	"restaurant": {
		{"한식", "한식"}, {"중식", "중식"}, {"일식", "일식"}, {"양식", "양식"}, {"고기", "고기"},
		{"삼겹", "삼겹살"}, {"국밥", "국밥"}, {"파스타", "파스타"}, {"초밥", "초밥"}, {"스시", "초밥"},
		{"라멘", "라멘"}, {"냉면", "냉면"}, {"찌개", "찌개"}, {"매운", "매운 음식"}, {"매콤", "매운 음식"},
		{"korean", "korean"}, {"sushi", "sushi"}, {"pasta", "pasta"}, {"spicy", "spicy"},
	},
	"attraction": {
		{"전시", "전시"}, {"미술", "미술관"}, {"박물", "박물관"}, {"영화", "영화"}, {"공원", "공원"},
		{"산책", "산책"}, {"체험", "체험"}, {"공연", "공연"}, {"방탈출", "방탈출"}, {"보드게임", "보드게임"},
		{"노래방", "노래방"}, {"쇼핑", "쇼핑"}, {"museum", "museum"}, {"gallery", "gallery"},
		{"park", "park"}, {"movie", "movie"}, {"shopping", "shopping"},
	},
}

// particles are stripped from the end of Korean tokens, longest first.
var particles = []string{
	"에서는", "에서", "으로", "이랑", "하고", "이나", "까지", "부터", "처럼", "보다", "에는",
	"은", "는", "이", "가", "을", "를", "에", "도", "와", "과", "랑", "의", "로",
}

var stopwords = map[string]struct{}{
	"곳": {}, "데": {}, "거": {}, "것": {}, "좀": {}, "곳이": {}, "데가": {}, "좋은": {}, "좋겠어": {},
	"있는": {}, "없는": {}, "정도": {}, "느낌": {}, "하는": {}, "추천": {}, "그냥": {}, "아주": {},
	"너무": {}, "진짜": {}, "정말": {}, "여기": {}, "근처": {}, "카페": {}, "식당": {}, "음식점": {},
	"the": {}, "and": {}, "with": {}, "for": {}, "place": {}, "somewhere": {}, "want": {}, "good": {},
	"nice": {}, "some": {}, "that": {}, "where": {}, "near": {}, "like": {}, "would": {}, "really": {},
	"very": {}, "please": {}, "find": {}, "looking": {}, "something": {}, "spot": {},
}

// verbEndings mark conjugated predicates that carry no tag on their own.
var verbEndings = []string{"요", "다", "줘", "어", "야", "네", "지", "죠", "고"}

// KeywordBackend is a deterministic lexicon extractor. It matches token
// prefixes against a stem table and keeps remaining content words as tags.
type KeywordBackend struct{}

func NewKeywordBackend() *KeywordBackend {
	return &KeywordBackend{}
}

func (k *KeywordBackend) Name() string { return "keyword" }

func (k *KeywordBackend) ExtractTags(_ context.Context, req Request) ([]string, error) {
	stems := stemsFor(req.Category)
	var tags []string
	for _, token := range Tokenize(req.Utterance) {
		if tag, ok := matchStem(token, stems); ok {
			tags = append(tags, tag)
			continue
		}
		if word, ok := contentWord(token); ok {
			tags = append(tags, word)
		}
	}
	return tags, nil
}

// Tokenize lower-cases and splits on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stemsFor(category string) []stem {
	extra, ok := categoryStems[types.CanonicalCategory(category)]
	if !ok {
		all := append([]stem(nil), commonStems...)
		for _, key := range []string{"cafe", "restaurant", "attraction"} {
			all = append(all, categoryStems[key]...)
		}
		return all
	}
	return append(append([]stem(nil), commonStems...), extra...)
}

func matchStem(token string, stems []stem) (string, bool) {
	for _, s := range stems {
		if strings.HasPrefix(token, s.prefix) {
			return s.tag, true
		}
	}
	return "", false
}

func contentWord(token string) (string, bool) {
	if strings.IndexFunc(token, unicode.IsDigit) >= 0 {
		return "", false
	}
	if _, ok := stopwords[token]; ok {
		return "", false
	}
	if isHangul(token) {
		word := stripParticle(token)
		if utf8.RuneCountInString(word) < 2 {
			return "", false
		}
		if _, ok := stopwords[word]; ok {
			return "", false
		}
		for _, end := range verbEndings {
			if strings.HasSuffix(word, end) {
				return "", false
			}
		}
		return word, true
	}
	if utf8.RuneCountInString(token) < 3 {
		return "", false
	}
	return token, true
}

func stripParticle(token string) string {
	for _, p := range particles {
		if strings.HasSuffix(token, p) {
			rest := strings.TrimSuffix(token, p)
			if utf8.RuneCountInString(rest) >= 2 {
				return rest
			}
		}
	}
	return token
}

func isHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
