package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/recycle-rewards/internal/ledger"
	"github.com/zombor/recycle-rewards/internal/reward"
	"github.com/zombor/recycle-rewards/internal/vision"
)

var _ = Describe("Server", func() {
	var (
		detector    *mockDetector
		store       *mockLedger
		orc         *Orchestrator
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(orc, store, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		// A handful of copies so specs can make several requests
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
	}

	scanRequest := func(userID string, image []byte, idempotencyKey string) *http.Request {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", "still.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(image)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).NotTo(HaveOccurred())

		req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/users/"+userID+"/scans", &b)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		return req
	}

	BeforeEach(func() {
		detector = newMockDetector()
		store = newMockLedger()
		// Instant backoff keeps the retry specs fast
		orc = NewOrchestratorWithDeps(detector, store, uuidGenerator{}, defaultTimeSource{},
			func(ctx context.Context, d time.Duration) error { return ctx.Err() })
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleSubmitScan", func() {
		When("a bottle image is submitted", func() {
			var resp *http.Response

			JustBeforeEach(func() {
				var err error
				resp, err = http.DefaultClient.Do(scanRequest("user-1", []byte("fake image"), ""))
				Expect(err).NotTo(HaveOccurred())
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})

			It("should report the decision and new ledger state", func() {
				var result Result
				Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
				Expect(result.Decision.Category).To(Equal(reward.CategoryBottle))
				Expect(result.Balance).To(Equal(int64(10)))
				Expect(result.ScannedCount).To(Equal(int64(1)))
				Expect(result.SubmissionID).NotTo(BeEmpty())
			})
		})

		When("the same idempotency key is submitted twice", func() {
			It("credits once and replays the stored result", func() {
				resp, err := http.DefaultClient.Do(scanRequest("user-1", []byte("fake image"), "retry-key"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				resp, err = http.DefaultClient.Do(scanRequest("user-1", []byte("fake image"), "retry-key"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				var result Result
				Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
				Expect(result.Balance).To(Equal(int64(10)))
				Expect(result.ScannedCount).To(Equal(int64(1)))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/users/user-1/scans", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the image is invalid", func() {
			BeforeEach(func() {
				detector.errs = []error{vision.ErrInvalidImage}
			})

			It("should return status Unprocessable Entity", func() {
				resp, err := http.DefaultClient.Do(scanRequest("user-1", []byte("junk"), ""))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})

		When("the detection service is down", func() {
			BeforeEach(func() {
				detector.errs = []error{
					vision.ErrServiceUnavailable,
					vision.ErrServiceUnavailable,
					vision.ErrServiceUnavailable,
				}
			})

			It("should return status Bad Gateway", func() {
				resp, err := http.DefaultClient.Do(scanRequest("user-1", []byte("fake image"), ""))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})
	})

	Describe("handleGetLedger", func() {
		When("the user has credits", func() {
			BeforeEach(func() {
				_, err := store.Credit(context.Background(), "user-1", "sub-1",
					reward.Decision{Category: reward.CategoryCan, Amount: 50})
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the account state", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/users/user-1/ledger")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var account ledger.Account
				Expect(json.NewDecoder(resp.Body).Decode(&account)).NotTo(HaveOccurred())
				Expect(account.Balance).To(Equal(int64(50)))
				Expect(account.ScannedCount).To(Equal(int64(1)))
			})
		})

		When("the user was never credited", func() {
			It("should return a zero-valued account", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/users/stranger/ledger")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var account ledger.Account
				Expect(json.NewDecoder(resp.Body).Decode(&account)).NotTo(HaveOccurred())
				Expect(account.Balance).To(BeZero())
			})
		})
	})

	Describe("handleLeaderboard", func() {
		BeforeEach(func() {
			ctx := context.Background()
			_, err := store.Credit(ctx, "alice", "a-1", reward.Decision{Category: reward.CategoryCan, Amount: 50})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Credit(ctx, "bob", "b-1", reward.Decision{Category: reward.CategoryBottle, Amount: 10})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return accounts ordered by balance", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/leaderboard")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var accounts []ledger.Account
			Expect(json.NewDecoder(resp.Body).Decode(&accounts)).NotTo(HaveOccurred())
			Expect(accounts).To(HaveLen(2))
			Expect(accounts[0].UserID).To(Equal("alice"))
		})

		It("should reject a bad limit", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/leaderboard?limit=zero")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		When("no credentials are provided", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/leaderboard")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("valid credentials are provided", func() {
			It("should serve the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/leaderboard", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/leaderboard", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Unauthorized"))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
