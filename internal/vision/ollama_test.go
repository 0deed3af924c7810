package vision

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// pngFixture returns a tiny valid PNG image
func pngFixture() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

// jpegFixture returns a tiny valid JPEG image
func jpegFixture() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
	return buf.Bytes()
}

var _ = ginkgo.Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		detector *Ollama
		result   *ClassificationResult
		err      error
	)

	ginkgo.BeforeEach(func() {
		server = ghttp.NewServer()
		detector, err = NewOllama(server.URL(), "llava", DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	ginkgo.JustBeforeEach(func() {
		result, err = detector.DetectLabels(context.Background(), pngFixture())
	})

	ginkgo.When("the model returns labels", func() {
		ginkgo.BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/chat"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{
						"role":    "assistant",
						"content": `[{"name": "Plastic Bottle", "confidence": 92}, {"name": "Table", "confidence": 40}]`,
					},
					"done": true,
				}),
			))
		})

		ginkgo.It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		ginkgo.It("should normalize away low-confidence labels", func() {
			Expect(result.Labels).To(HaveLen(1))
			Expect(result.Labels[0].Name).To(Equal("Plastic Bottle"))
		})
	})

	ginkgo.When("the model wraps its answer in markdown fences", func() {
		ginkgo.BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": "```json\n[{\"name\": \"Aluminum Can\", \"confidence\": 88}]\n```",
				},
				"done": true,
			}))
		})

		ginkgo.It("should still parse the labels", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Labels).To(HaveLen(1))
			Expect(result.Labels[0].Name).To(Equal("Aluminum Can"))
		})
	})

	ginkgo.When("the service rejects the image", func() {
		ginkgo.BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"error": "invalid image"}`))
		})

		ginkgo.It("reports an invalid image", func() {
			Expect(err).To(MatchError(ErrInvalidImage))
		})
	})

	ginkgo.When("the service errors out", func() {
		ginkgo.BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
		})

		ginkgo.It("reports the service unavailable", func() {
			Expect(err).To(MatchError(ErrServiceUnavailable))
		})
	})

	ginkgo.When("the service cannot be reached", func() {
		ginkgo.BeforeEach(func() {
			server.Close()
		})

		ginkgo.It("reports the service unavailable", func() {
			Expect(err).To(MatchError(ErrServiceUnavailable))
		})
	})

})

var _ = ginkgo.Describe("Ollama with an undecodable image", func() {
	var (
		server   *ghttp.Server
		detector *Ollama
		err      error
	)

	ginkgo.BeforeEach(func() {
		server = ghttp.NewServer()
		detector, err = NewOllama(server.URL(), "llava", DefaultConfig())
		Expect(err).NotTo(HaveOccurred())

		_, err = detector.DetectLabels(context.Background(), []byte("not an image"))
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	ginkgo.It("reports an invalid image without calling the service", func() {
		Expect(err).To(MatchError(ErrInvalidImage))
		Expect(server.ReceivedRequests()).To(BeEmpty())
	})
})
