package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/sentinelcam/sentinel/server/jobs"
)

func (s *Server) httpJobSubmit(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := BatchRequestJSON{}
	www.ReadJSON(w, r, &req, maxBodyBytes)
	www.CheckClient(req.Validate())
	id, err := s.jobs.Submit(req.Name, func() (*jobs.Result, error) {
		return s.RunBatch(req)
	})
	if err != nil {
		www.Panic(http.StatusServiceUnavailable, err.Error())
	}
	www.SendJSON(w, map[string]string{"id": id})
}

func (s *Server) httpJobStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	job, ok := s.jobs.Get(params.ByName("jobID"))
	if !ok {
		www.PanicNotFound()
	}
	www.SendJSON(w, job)
}

func (s *Server) httpJobList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.jobs.List())
}
