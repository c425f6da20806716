package session

import "github.com/enayetaitech/amplify-sub003/internal/models"

// Outbound event names shared by the components that mutate session lists.
const (
	EventMeetingStarted           = "meetingStarted"
	EventMeetingEnded             = "meetingEnded"
	EventParticipantWaitingUpdate = "participantWaitingRoomUpdate"
	EventParticipantListUpdate    = "participantListUpdate"
	EventObserverWaitingUpdate    = "observer:waiting_room_update"
	EventObserverListUpdate       = "observerListUpdate"
	EventRemovedFromSession       = "removedFromMeeting"
)

// WaitingRoomEvent builds the room broadcast carrying a track's updated
// waiting list.
func WaitingRoomEvent(s *models.LiveSession, track models.Track) Event {
	name := EventParticipantWaitingUpdate
	if track == models.TrackObserver {
		name = EventObserverWaitingUpdate
	}
	return Event{Name: name, Payload: s.WaitingList(track)}
}

// RosterEvent builds the room broadcast carrying a track's updated roster.
func RosterEvent(s *models.LiveSession, track models.Track) Event {
	name := EventParticipantListUpdate
	if track == models.TrackObserver {
		name = EventObserverListUpdate
	}
	return Event{Name: name, Payload: s.Roster(track)}
}
