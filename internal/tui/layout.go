package tui

// PanelDimensions holds calculated dimensions for each panel.
type PanelDimensions struct {
	// TasksWidth is the width of the tasks panel (top left).
	TasksWidth int
	// ProcessesWidth is the width of the processes panel (top right).
	ProcessesWidth int
	// TopHeight is the height of the tasks and processes row.
	TopHeight int
	// ActivityWidth and ActivityHeight size the activity panel (bottom).
	ActivityWidth  int
	ActivityHeight int
}

// LayoutManager calculates panel dimensions from the terminal size.
type LayoutManager struct {
	totalWidth   int
	totalHeight  int
	headerHeight int
	footerHeight int
}

// NewLayoutManager creates a LayoutManager for the given terminal size.
func NewLayoutManager(width, height int) *LayoutManager {
	return &LayoutManager{
		totalWidth:   width,
		totalHeight:  height,
		headerHeight: 2,
		footerHeight: 1,
	}
}

// SetSize updates the terminal dimensions.
func (l *LayoutManager) SetSize(width, height int) {
	l.totalWidth = width
	l.totalHeight = height
}

// Calculate returns the panel dimensions.
// Ratios: tasks 45% and processes 55% of the width; the top row takes 60% of
// the content height and activity the rest.
func (l *LayoutManager) Calculate() PanelDimensions {
	const (
		minTasksWidth  = 30
		minPanelHeight = 5
	)

	tasksWidth := max(l.totalWidth*45/100, minTasksWidth)
	processesWidth := max(l.totalWidth-tasksWidth, 0)

	content := max(l.totalHeight-l.headerHeight-l.footerHeight, 2*minPanelHeight)
	top := max(content*60/100, minPanelHeight)
	activity := max(content-top, minPanelHeight)

	return PanelDimensions{
		TasksWidth:     tasksWidth,
		ProcessesWidth: processesWidth,
		TopHeight:      top,
		ActivityWidth:  l.totalWidth,
		ActivityHeight: activity,
	}
}

// HeaderHeight returns the height reserved for the header.
func (l *LayoutManager) HeaderHeight() int {
	return l.headerHeight
}
