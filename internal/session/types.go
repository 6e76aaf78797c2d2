package session

import (
	"context"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// Runner drives threads through the graph. The in-process engine and the
// Temporal runner both satisfy it.
type Runner interface {
	Start(ctx context.Context, threadID, question string) (*state.WorkflowState, error)
	Resume(ctx context.Context, threadID, decision string) (*state.WorkflowState, error)
	State(ctx context.Context, threadID string) (*state.WorkflowState, error)
}

// Reply is what the chat front-end shows after one message.
type Reply struct {
	// ThreadID is the thread the next message belongs to. It changes after approval.
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
	// Pending reports that the thread waits for a y/n review decision.
	Pending bool                    `json:"pending"`
	Answer  string                  `json:"answer,omitempty"`
	Report  *state.EvaluationReport `json:"evaluation_report,omitempty"`
	Failed  bool                    `json:"failed,omitempty"`
}

const (
	GeneratedHeader = "**생성된 답변:**"
	RewrittenHeader = "**재작성된 답변:**"
	ReviewPrompt    = "**이 답변이 마음에 드시나요? (y/n)**"
	ApprovedText    = "답변이 승인되었습니다. 새로운 질문을 해주세요."
	InvalidInput    = "올바른 입력을 해주세요. (y 또는 n)"
	ApologyText     = "죄송합니다. 오류가 발생했습니다. 다시 시도해 주세요."
	BusyText        = "이전 요청을 처리 중입니다. 잠시 후 다시 시도해 주세요."
)

// ExampleQuestions are offered to new users.
var ExampleQuestions = []string{
	"사업장에서 CCTV를 설치할 때 주의해야 할 법적 사항은 무엇인가요?",
	"전월세 계약 갱신 요구권의 행사 기간과 조건은 어떻게 되나요?",
	"개인정보 유출 시 기업이 취해야 할 법적 조치는 무엇인가요?",
}
