package http

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"chainiq-service/internal/app"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

var frameTemplate = template.Must(template.New("frame").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta property="fc:frame" content="vNext" />
    <meta property="fc:frame:image" content="{{.Image}}" />
    <meta property="fc:frame:post_url" content="{{.PostURL}}" />
{{- range $i, $b := .Buttons}}
    <meta property="fc:frame:button:{{inc $i}}" content="{{$b.Label}}" />
{{- if $b.Target}}
    <meta property="fc:frame:button:{{inc $i}}:action" content="link" />
    <meta property="fc:frame:button:{{inc $i}}:target" content="{{$b.Target}}" />
{{- end}}
{{- end}}
  </head>
  <body>
    <h1>{{.Heading}}</h1>
    <p>{{.Body}}</p>
  </body>
</html>
`))

type frameButton struct {
	Label  string
	Target string
}

type framePage struct {
	Image   string
	PostURL string
	Heading string
	Body    string
	Buttons []frameButton
}

// FrameHandler serves the Farcaster frame flavour of the quiz. Frames carry no
// client state: every click resolves against the player's stored progression.
type FrameHandler struct {
	log       *logger.Logger
	play      *app.PlayService
	publicURL string
	imageURL  string
}

func NewFrameHandler(log *logger.Logger, play *app.PlayService, publicURL, imageURL string) *FrameHandler {
	publicURL = strings.TrimRight(publicURL, "/")
	if publicURL == "" {
		publicURL = "http://localhost:8080"
	}
	return &FrameHandler{
		log:       log.With("handler", "FrameHandler"),
		play:      play,
		publicURL: publicURL,
		imageURL:  imageURL,
	}
}

type frameRequest struct {
	UntrustedData struct {
		FID         int64 `json:"fid"`
		ButtonIndex int   `json:"buttonIndex"`
	} `json:"untrustedData"`
}

// StartFrame renders the entry frame with a single Start button.
func (h *FrameHandler) StartFrame(c *gin.Context) {
	quizID := c.Query("quizId")
	if quizID == "" {
		c.String(http.StatusBadRequest, "Missing quizId")
		return
	}
	h.render(c, framePage{
		Image:   h.image(quizID, url.Values{"title": {"Start"}}),
		PostURL: h.postURL(quizID, false),
		Heading: "Ready?",
		Body:    "Press Start to begin the quiz.",
		Buttons: []frameButton{{Label: "Start"}},
	})
}

// PostFrame handles a button press. The first press starts the quiz without
// scoring; later presses answer the current question; reset=true retakes.
func (h *FrameHandler) PostFrame(c *gin.Context) {
	quizID := c.Query("quizId")
	if quizID == "" {
		c.String(http.StatusBadRequest, "Missing quizId")
		return
	}
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UntrustedData.FID == 0 {
		c.String(http.StatusBadRequest, "Missing untrustedData")
		return
	}
	ctx := c.Request.Context()
	playerID := fmt.Sprintf("fid:%d", req.UntrustedData.FID)

	var (
		progress app.Progress
		err      error
	)
	switch {
	case c.Query("reset") == "true":
		progress, err = h.play.Retake(ctx, quizID, playerID)
		if errors.Is(err, domain.ErrRetakeForbidden) || errors.Is(err, domain.ErrProgressionInProgress) {
			if current, cerr := h.play.Current(ctx, quizID, playerID); cerr == nil {
				progress, err = current, nil
			}
		}
	default:
		progress, err = h.play.Current(ctx, quizID, playerID)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			progress, err = h.play.Begin(ctx, quizID, playerID)
		case err == nil && !progress.Complete:
			button := req.UntrustedData.ButtonIndex
			if button < 1 || button > domain.OptionsPerQuestion {
				c.String(http.StatusBadRequest, "Invalid button")
				return
			}
			var outcome app.AnswerOutcome
			outcome, err = h.play.Answer(ctx, quizID, playerID, app.Choice(button-1))
			progress = outcome.Progress
			if errors.Is(err, domain.ErrRetakeForbidden) {
				if current, cerr := h.play.Current(ctx, quizID, playerID); cerr == nil {
					progress, err = current, nil
				}
			}
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	if progress.Complete {
		h.render(c, h.completionPage(quizID, progress))
		return
	}
	h.render(c, h.questionPage(quizID, progress))
}

func (h *FrameHandler) questionPage(quizID string, p app.Progress) framePage {
	page := framePage{
		Image:   h.image(quizID, url.Values{"question": {p.Question.Question}}),
		PostURL: h.postURL(quizID, false),
		Heading: fmt.Sprintf("Question %d of %d", p.Question.Index+1, p.TotalQuestions),
		Body:    p.Question.Question,
	}
	for _, opt := range p.Question.Options {
		page.Buttons = append(page.Buttons, frameButton{Label: opt})
	}
	return page
}

func (h *FrameHandler) completionPage(quizID string, p app.Progress) framePage {
	score := fmt.Sprintf("%d/%d", p.State.Score, p.TotalQuestions)
	share := "https://warpcast.com/~/compose?text=" + url.QueryEscape(
		fmt.Sprintf("I scored %s on %s! Try it: %s/quiz/%s", score, p.Title, h.publicURL, quizID))

	page := framePage{
		Image:   h.image(quizID, url.Values{"score": {fmt.Sprint(p.State.Score)}, "total": {fmt.Sprint(p.TotalQuestions)}}),
		PostURL: h.postURL(quizID, true),
		Heading: "Quiz Complete!",
		Body:    "Your score: " + score,
	}
	if !p.Perfect {
		page.Buttons = append(page.Buttons, frameButton{Label: "Try Again"})
	}
	page.Buttons = append(page.Buttons,
		frameButton{Label: "Back to Home", Target: h.publicURL},
		frameButton{Label: "Share Score", Target: share},
	)
	return page
}

func (h *FrameHandler) image(quizID string, params url.Values) string {
	base := h.imageURL
	if base == "" {
		base = h.publicURL + "/frames/quiz/image"
	}
	params.Set("quizId", quizID)
	return base + "?" + params.Encode()
}

func (h *FrameHandler) postURL(quizID string, reset bool) string {
	v := url.Values{"quizId": {quizID}}
	if reset {
		v.Set("reset", "true")
	}
	return h.publicURL + "/frames/quiz?" + v.Encode()
}

func (h *FrameHandler) render(c *gin.Context, page framePage) {
	var buf bytes.Buffer
	if err := frameTemplate.Execute(&buf, page); err != nil {
		h.log.Error("render frame", "error", err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *FrameHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("frame request failed", "error", err)
		c.String(status, "Internal server error")
		return
	}
	c.String(status, err.Error())
}
