package conversation

import (
	"github.com/FACorreiaa/haru-planner/internal/api/tagging"
)

// Intent is the coarse reading of an utterance used to drive the stage graph.
type Intent string

const (
	IntentDetail   Intent = "detail"
	IntentAffirm   Intent = "affirm"
	IntentDecline  Intent = "decline"
	IntentMore     Intent = "more"
	IntentAnything Intent = "anything"
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var (
	affirmWords = wordSet(
		"yes", "y", "yeah", "yep", "ok", "okay", "sure", "go", "next",
		"네", "넹", "넵", "예", "응", "웅", "어", "그래", "그래요", "좋아", "좋아요", "좋습니다",
		"맞아", "맞아요", "괜찮아", "괜찮아요", "ㅇㅇ", "ㅇㅋ", "ㄱㄱ", "고고", "오케이", "콜",
		"다음", "진행", "진행해", "진행해줘", "확인", "추천해줘", "추천해주세요",
	)
	declineWords = wordSet(
		"no", "nope", "nah",
		"아니", "아니요", "아뇨", "아니야", "싫어", "싫어요", "별로", "ㄴㄴ", "노",
	)
	moreWords = wordSet(
		"more", "add",
		"추가", "더", "더요", "또", "추가할래", "추가해줘", "추가할게",
	)
	anythingWords = wordSet(
		"anything", "whatever", "random", "any",
		"아무거나", "아무데나", "아무곳이나", "암거나", "상관없어", "상관없어요", "랜덤", "다좋아",
	)
	fillerWords = wordSet(
		"please", "it", "that", "just",
		"그걸로", "그거", "그냥", "해줘", "해주세요", "할게", "할래", "주세요", "요", "정말", "진짜", "완전", "다",
	)
)

// ClassifyIntent matches whole tokens only. An utterance is a control intent
// when every token belongs to that intent's vocabulary or to the filler
// words; anything else is treated as detail, so "분위기 좋아 보이는 곳" stays
// detail even though it contains "좋아".
func ClassifyIntent(utterance string) Intent {
	tokens := tagging.Tokenize(utterance)
	if len(tokens) == 0 {
		return IntentDetail
	}

	sawAnything := false
	for _, tok := range tokens {
		if _, ok := anythingWords[tok]; ok {
			sawAnything = true
			break
		}
	}
	if sawAnything && onlyFrom(tokens, anythingWords, affirmWords, fillerWords) {
		return IntentAnything
	}

	switch {
	case onlyFrom(tokens, affirmWords, fillerWords) && hasAny(tokens, affirmWords):
		return IntentAffirm
	case onlyFrom(tokens, declineWords, fillerWords) && hasAny(tokens, declineWords):
		return IntentDecline
	case onlyFrom(tokens, moreWords, fillerWords) && hasAny(tokens, moreWords):
		return IntentMore
	}
	return IntentDetail
}

func onlyFrom(tokens []string, sets ...map[string]struct{}) bool {
	for _, tok := range tokens {
		found := false
		for _, set := range sets {
			if _, ok := set[tok]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasAny(tokens []string, set map[string]struct{}) bool {
	for _, tok := range tokens {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}
