package conversation

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

var categoryLabels = map[string]string{
	types.CategoryCafe:       "카페",
	types.CategoryRestaurant: "음식점",
	types.CategoryAttraction: "놀거리",
}

func categoryLabel(category string) string {
	if label, ok := categoryLabels[category]; ok {
		return label
	}
	return category
}

func askDetailsPrompt(category string, partySize int) string {
	who := "어떤"
	if partySize > 1 {
		who = fmt.Sprintf("%d명이 함께 갈", partySize)
	}
	return fmt.Sprintf("%s %s을(를) 찾으세요? 분위기, 메뉴, 가격대 등 원하는 조건을 알려주세요.", who, categoryLabel(category))
}

func clarifyPrompt(category string) string {
	return fmt.Sprintf("조금 더 구체적으로 말씀해 주시겠어요? 예: 조용한 %s, 디저트가 맛있는 곳", categoryLabel(category))
}

func moreDetailsPrompt(category string) string {
	return fmt.Sprintf("좋아요. %s에 대해 더 원하는 조건을 말씀해 주세요.", categoryLabel(category))
}

func confirmPrompt(target *types.CategoryTarget) string {
	if len(target.Tags) == 0 {
		return fmt.Sprintf("특별한 조건 없이 인기 있는 %s로 추천해 드릴까요? (네/아니요)", categoryLabel(target.Category))
	}
	return fmt.Sprintf("%s 취향을 %s(으)로 정리했어요. 이대로 추천해 드릴까요? (네/아니요)",
		categoryLabel(target.Category), strings.Join(target.Tags, ", "))
}

func resultPrompt(result *types.CategoryResult) string {
	label := categoryLabel(result.Category)
	switch result.Outcome {
	case types.OutcomeRetrievalUnavailable:
		return fmt.Sprintf("지금은 %s 검색을 할 수 없어요.", label)
	case types.OutcomeNoMatches:
		return fmt.Sprintf("조건에 맞는 %s을(를) 찾지 못했어요.", label)
	default:
		return fmt.Sprintf("%s %d곳을 추천해 드려요.", label, len(result.Candidates))
	}
}

const (
	forcedAdvancePrompt = "대화가 길어져서 지금까지 말씀하신 내용으로 추천해 드릴게요."
	completedPrompt     = "모든 추천이 끝났어요. 마음에 드는 곳을 골라 하루 일정을 만들어 보세요."
	cancelledPrompt     = "대화를 종료했어요."
)

// joinPrompt drops empty parts and joins the rest with a space.
func joinPrompt(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
