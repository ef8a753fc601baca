package main

import (
	"time"

	"github.com/Pkv562/UNITE/pkg/models"
)

// seed loads a small Cebu catalogue with one request in each lifecycle
// state.
func seed(s *requestStore) {
	s.jurisdictions = []models.Jurisdiction{
		{ID: "prov-cebu", Type: "province", Name: "Cebu"},
		{ID: "dist-1", Type: "district", Name: "District 1", ParentID: "prov-cebu", Province: "Cebu"},
		{ID: "dist-2", Type: "district", Name: "District 2", ParentID: "prov-cebu", Province: "Cebu"},
		{ID: "mun-talisay", Type: "municipality", Name: "Talisay", ParentID: "dist-1", Province: "Cebu", District: "District 1"},
		{ID: "mun-minglanilla", Type: "municipality", Name: "Minglanilla", ParentID: "dist-1", Province: "Cebu", District: "District 1"},
		{ID: "mun-danao", Type: "municipality", Name: "Danao", ParentID: "dist-2", Province: "Cebu", District: "District 2"},
	}
	s.reviewers = []models.Reviewer{
		{UserID: "rev-prov", Name: "Provincial Coordinator", Role: "coordinator", Province: "Cebu"},
		{UserID: "rev-d1", Name: "District 1 Officer", Role: "stakeholder", Province: "Cebu", District: "District 1"},
		{UserID: "rev-d2", Name: "District 2 Officer", Role: "stakeholder", Province: "Cebu", District: "District 2"},
	}

	base := s.now().UTC().Truncate(time.Hour)
	at := func(days int) *time.Time {
		t := base.Add(time.Duration(days) * 24 * time.Hour)
		return &t
	}
	add := func(id, title string, cat models.Category, status models.Status, district, mun string, startDay int) *models.EventRequest {
		start := at(startDay)
		end := start.Add(4 * time.Hour)
		r := &models.EventRequest{
			ID:           id,
			Title:        title,
			Category:     cat,
			Location:     mun + " Gym",
			Status:       status,
			Province:     "Cebu",
			District:     district,
			Municipality: mun,
			Start:        start,
			End:          &end,
			Requester:    &models.Person{UserID: "coord-" + mun, Name: mun + " Coordinator", Role: "coordinator"},
			StatusHistory: []models.HistoryEntry{
				{Status: models.StatusPendingReview, Actor: "coord-" + mun, Timestamp: *at(-startDay)},
			},
		}
		if status != models.StatusPendingReview {
			r.StatusHistory = append(r.StatusHistory, models.HistoryEntry{Status: status, Actor: "rev-prov", Timestamp: *at(-startDay + 1)})
		}
		s.items[id] = r
		return r
	}
	add("req-1001", "Barangay Blood Drive", models.CategoryBloodDrive, models.StatusPendingReview, "District 1", "Talisay", 10)
	add("req-1002", "Donor Awareness Talk", models.CategoryAdvocacy, models.StatusApproved, "District 1", "Minglanilla", 14)
	add("req-1003", "Phlebotomy Refresher", models.CategoryTraining, models.StatusCancelled, "District 2", "Danao", 3)
	add("req-1004", "School Outreach", models.CategoryAdvocacy, models.StatusRejected, "District 2", "Danao", 5)
	r := add("req-1005", "Mobile Blood Drive", models.CategoryBloodDrive, models.StatusReviewRescheduled, "District 1", "Talisay", 21)
	r.Reschedule = &models.RescheduleProposal{ProposedBy: "rev-prov", ProposedDate: *at(28), Note: "venue conflict"}
	r.ActiveResponder = &models.ActiveResponder{Role: models.ResponderRequester}
}
