package pagination

import "fmt"

// ActionType identifies what a trigger asks the controller to fetch.
type ActionType int

const (
	// Refresh re-fetches the current page.
	Refresh ActionType = iota
	// PreviousPage moves the cursor back one page.
	PreviousPage
	// NextPage advances the cursor one page.
	NextPage
	// FirstPage rewinds the cursor to zero.
	FirstPage
	// SingleItem fetches one record; the success callback receives the first Z1 item.
	SingleItem
	// UnpagedList fetches a whole list without moving the cursor.
	UnpagedList
)

// String returns the action name used in logs and metric labels.
func (a ActionType) String() string {
	switch a {
	case Refresh:
		return "refresh"
	case PreviousPage:
		return "prePage"
	case NextPage:
		return "nextPage"
	case FirstPage:
		return "firstPage"
	case SingleItem:
		return "singleInfo"
	case UnpagedList:
		return "allList"
	default:
		return fmt.Sprintf("ActionType(%d)", int(a))
	}
}

// Status is the loading status of a controller.
type Status int

const (
	// Idle means no fetch has run yet.
	Idle Status = iota
	// Loading means a fetch is in flight; new triggers are dropped.
	Loading
	// Succeeded means the last fetch completed.
	Succeeded
	// Failed means the last fetch returned an error.
	Failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Succeeded:
		return "success"
	case Failed:
		return "fail"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// NextCursor computes the cursor for a fetch of the given action.
// With pageSize <= 0 pagination is disabled and the cursor is returned as is.
// Every action other than FirstPage, PreviousPage and NextPage keeps the cursor.
func NextCursor(action ActionType, cursor, pageSize int) int {
	if pageSize <= 0 {
		return cursor
	}

	switch action {
	case FirstPage:
		return 0
	case PreviousPage:
		if cursor-pageSize < 0 {
			return 0
		}
		return cursor - pageSize
	case NextPage:
		return cursor + pageSize
	default:
		return cursor
	}
}
