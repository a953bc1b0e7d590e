package models

// DefaultTripInfo is the trip shown before anything has been saved.
func DefaultTripInfo() TripInfo {
	return TripInfo{
		Title:       "서울아산병원 출장",
		Date:        "2025년 6월 18일",
		Location:    "서울아산병원",
		Description: "업무 관련 출장입니다.",
		Schedule: []ScheduleItem{
			{Time: "09:00", Activity: "집합 및 출발", Emoji: "🚌", Color: "#3B82F6"},
			{Time: "10:30", Activity: "서울아산병원 도착", Emoji: "🏥", Color: "#10B981"},
			{Time: "11:00", Activity: "미팅 시작", Emoji: "💼", Color: "#8B5CF6"},
			{Time: "12:00", Activity: "점심 식사", Emoji: "🍽️", Color: "#F59E0B"},
			{Time: "14:00", Activity: "오후 미팅", Emoji: "📊", Color: "#EF4444"},
			{Time: "16:00", Activity: "마무리 및 복귀", Emoji: "🏃", Color: "#6B7280"},
		},
	}
}

// Default returns the built-in document used when storage is empty.
func Default() TripData {
	d := TripData{
		TripInfo: DefaultTripInfo(),
		Attendees: []Attendee{
			{ID: 1, Name: "김철수", Position: "팀장", Confirmed: true},
			{ID: 2, Name: "이영희", Position: "대리", Confirmed: true},
			{ID: 3, Name: "박민수", Position: "사원", Confirmed: false},
			{ID: 4, Name: "정수진", Position: "과장", Confirmed: true},
		},
		ChatMessages: []Message{
			{
				ID:      1,
				Type:    MessageTypeQuestion,
				Author:  "김철수",
				Content: "집합 장소가 어디인가요?",
				Time:    "2시간 전",
				Replies: []Reply{
					{ID: 1, Author: "정수진", Content: "서울역 2번 출구에서 집합입니다.", Time: "1시간 30분 전"},
				},
			},
			{
				ID:      2,
				Type:    MessageTypeQuestion,
				Author:  "이영희",
				Content: "점심은 어디서 먹나요?",
				Time:    "1시간 전",
				Replies: []Reply{},
			},
		},
	}
	d.Sequence = d.Sequence.Observe(d)
	return d
}
