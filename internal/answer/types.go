// Package answer turns an assembled evidence context into the final
// user-facing reply: the analytic counting short-circuit, epistemic
// prompt construction, mode templates, the LLM fallback ladder and
// short-answer recovery.
package answer

import (
	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/search"
)

// Metadata status values reported under the "status" key.
const (
	StatusOK        = "ok"
	StatusAnalytic  = "analytic"
	StatusNoContext = "no_context"
	StatusLLMError  = "llm_error"
)

// User-facing fallback texts. The engine degrades to these instead of
// failing the request.
const (
	noContextMessage   = "Kütüphanenizde bu soruyla ilgili bir bağlam bulamadım. Soruyu farklı sözcüklerle yeniden sormayı deneyebilirsiniz."
	llmFailureMessage  = "Yanıt üretilirken bir sorun oluştu. Lütfen birazdan yeniden deneyin."
	outOfNetworkPrefix = "Notlarınızda bilgi bulamadım, "
)

// Source mirrors one used evidence chunk for the response payload,
// preserving the post-fusion evidence order.
type Source struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	PageNumber *int      `json:"page_number,omitempty"`
	Snippet    string    `json:"snippet"`
	Score      float64   `json:"score"`
}

// Answer is the engine's reply: the generated text, the sources behind
// it, and the merged diagnostic metadata.
type Answer struct {
	Text     string          `json:"answer"`
	Sources  []Source        `json:"sources"`
	Metadata search.Metadata `json:"metadata"`
}
