package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/service"
)

// Register mounts the task API on api. generateLimit guards submissions and
// may be nil.
func Register(api fiber.Router, svc *service.GenerationService, v *validator.Validate, generateLimit fiber.Handler, log zerolog.Logger) {
	generate := NewGenerateHandler(svc, v, log)
	tasks := NewTaskHandler(svc)
	users := NewUserHandler(svc)
	media := NewMediaHandler(svc)

	submit := []fiber.Handler{}
	if generateLimit != nil {
		submit = append(submit, generateLimit)
	}

	g := api.Group("/generate")
	g.Post("/", append(submit, generate.Generate)...)
	g.Post("/character-card", append(submit, generate.CharacterCard)...)
	g.Get("/status/:id", generate.Status)

	t := api.Group("/tasks")
	t.Get("/pending", tasks.Pending)
	t.Delete("/:id", tasks.Cancel)
	t.Post("/:id/cancel", tasks.Cancel)

	u := api.Group("/user")
	u.Get("/status", users.Status)
	u.Get("/balance", users.Balance)

	api.Get("/media/:id", media.Serve)
}
